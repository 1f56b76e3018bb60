package osdr

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	errs "github.com/Neil2813/Nexus/errors"
	"github.com/Neil2813/Nexus/pkg/fallback"
)

// GetMetadata returns the metadata object of one study. When the response
// wraps it under "study" the inner object is returned.
func (c *Client) GetMetadata(ctx context.Context, studyID string) (map[string]any, error) {
	if strings.TrimSpace(studyID) == "" {
		return nil, errs.WrapInvalid(errs.ErrInvalidData, "osdr", "GetMetadata", "study id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	e := endpoint{url: c.cfg.BaseURL + "/osdr/data/osd/meta/" + url.PathEscape(studyID)}
	doc, err := c.fetchJSON(ctx, e)
	c.recordCall("metadata", 1, err)
	if err != nil {
		return nil, err
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, errs.WrapTransient(errs.ErrMalformedResponse, "osdr", "GetMetadata", "expected an object")
	}
	if study, ok := obj["study"].(map[string]any); ok && len(study) > 0 {
		return study, nil
	}
	return obj, nil
}

// FilesQuery selects files of one or more studies. IDs is passed through
// as given, for example "OSD-9" or "OSD-9,OSD-48".
type FilesQuery struct {
	IDs      string
	Page     int
	Size     int
	AllFiles bool
}

// File is one downloadable file of a study.
type File struct {
	Name         string `json:"file_name"`
	Size         int64  `json:"file_size,omitempty"`
	Type         string `json:"file_type,omitempty"`
	URL          string `json:"file_url,omitempty"`
	RemoteURL    string `json:"remote_url,omitempty"`
	Subdirectory string `json:"subdirectory,omitempty"`
	Description  string `json:"description,omitempty"`
}

// FileList is the result of GetFiles. A degraded list has Source "Error".
type FileList struct {
	StudyID string `json:"study_id"`
	Files   []File `json:"files"`
	Total   int    `json:"total"`
	Page    int    `json:"page"`
	Size    int    `json:"size"`
	Source  string `json:"source"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// GetFiles lists the files of the studies named in q.IDs.
func (c *Client) GetFiles(ctx context.Context, q FilesQuery) (FileList, error) {
	if q.Size <= 0 {
		q.Size = 25
	}
	out := FileList{StudyID: q.IDs, Files: []File{}, Page: q.Page, Size: q.Size}
	if strings.TrimSpace(q.IDs) == "" {
		err := errs.WrapInvalid(errs.ErrInvalidData, "osdr", "GetFiles", "study id is required")
		return c.filesUnavailable(out, err), err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	e := endpoint{
		url: c.cfg.BaseURL + "/osdr/data/osd/files/" + url.PathEscape(q.IDs),
		params: url.Values{
			"page":      {strconv.Itoa(q.Page)},
			"size":      {strconv.Itoa(q.Size)},
			"all_files": {strconv.FormatBool(q.AllFiles)},
		},
	}
	doc, err := c.fetchJSON(ctx, e)
	c.recordCall("files", 1, err)
	if err != nil {
		return c.filesUnavailable(out, err), err
	}

	var items []any
	switch t := doc.(type) {
	case []any:
		items = t
	case map[string]any:
		for _, key := range []string{"files", "study_files", "data_files"} {
			if list, ok := t[key].([]any); ok {
				items = list
				break
			}
		}
		out.Total, _ = totalOf(t["total"])
	default:
		err := errs.WrapTransient(errs.ErrMalformedResponse, "osdr", "GetFiles", "unexpected file response")
		return c.filesUnavailable(out, err), err
	}

	for _, item := range objects(items) {
		out.Files = append(out.Files, File{
			Name:         text(item, "file_name", "name", "filename"),
			Size:         int64(count(item, "file_size", "size")),
			Type:         text(item, "file_type", "type"),
			URL:          text(item, "file_url", "url", "download_url"),
			RemoteURL:    text(item, "remote_url"),
			Subdirectory: text(item, "subdirectory", "path"),
			Description:  text(item, "description"),
		})
	}
	if out.Total == 0 {
		out.Total = len(out.Files)
	}
	out.Source = "NASA OSDR Files API"
	if len(out.Files) > 0 {
		out.Message = fmt.Sprintf("Found %d files", len(out.Files))
	} else {
		out.Message = "No public files available for this study"
	}
	return out, nil
}

func (c *Client) filesUnavailable(out FileList, err error) FileList {
	c.logger.Warn("file listing failed", "study", out.StudyID, "error", err)
	out.Files = []File{}
	out.Total = 0
	out.Source = SourceError
	out.Error = "Could not fetch files from OSDR: " + err.Error()
	out.Message = "This study may not have public files available yet, or the study ID may be incorrect."
	return out
}

// StudyDetails combines the fields callers show for a single study.
type StudyDetails struct {
	StudyID        string         `json:"study_id"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Organism       string         `json:"organism,omitempty"`
	Mission        string         `json:"mission,omitempty"`
	StudyType      string         `json:"study_type,omitempty"`
	ReleaseDate    string         `json:"release_date,omitempty"`
	DataTypes      []string       `json:"data_types"`
	ManagingCenter string         `json:"managing_center,omitempty"`
	FundingAgency  string         `json:"funding_agency,omitempty"`
	FlightProgram  string         `json:"flight_program,omitempty"`
	SpaceProgram   string         `json:"space_program,omitempty"`
	Accession      string         `json:"accession,omitempty"`
	DataSourceURL  string         `json:"data_source_url,omitempty"`
	Publications   []string       `json:"publications,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Timestamp      string         `json:"timestamp,omitempty"`
	Source         string         `json:"source"`
	Message        string         `json:"message,omitempty"`
	// NoData marks a study that exists upstream without public metadata.
	NoData bool   `json:"no_data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Unavailable reports whether the details are a degraded payload.
func (d StudyDetails) Unavailable() bool {
	return d.Error != ""
}

// GetStudyDetails looks the study up in the search index first, which
// carries descriptions, and falls back to the metadata endpoint.
func (c *Client) GetStudyDetails(ctx context.Context, studyID string) (StudyDetails, error) {
	studyID = strings.TrimSpace(studyID)
	if studyID == "" {
		err := errs.WrapInvalid(errs.ErrInvalidData, "osdr", "GetStudyDetails", "study id is required")
		return detailsUnavailable(studyID, err.Error()), err
	}

	chain := chainFor[StudyDetails](c, "osdr.study", c.cfg.DetailTimeout, nil)
	res := chain.Run(ctx,
		fallback.Attempt[StudyDetails]{
			Provider: "search",
			Run:      func(ctx context.Context) (StudyDetails, error) { return c.detailsFromSearch(ctx, studyID) },
		},
		fallback.Attempt[StudyDetails]{
			Provider: "metadata",
			Run:      func(ctx context.Context) (StudyDetails, error) { return c.detailsFromMetadata(ctx, studyID) },
		},
	)
	if !res.OK() {
		return detailsUnavailable(studyID, res.Cause()), res.Err("osdr.study")
	}
	return res.Value, nil
}

func detailsUnavailable(studyID, cause string) StudyDetails {
	return StudyDetails{
		StudyID:     studyID,
		Title:       "Study " + studyID,
		Description: "Study details unavailable from OSDR API",
		DataTypes:   []string{},
		Source:      SourceError,
		Error:       cause,
		Message:     "Could not fetch study details from NASA OSDR API",
	}
}

func (c *Client) detailsFromSearch(ctx context.Context, studyID string) (StudyDetails, error) {
	e := endpoint{
		url:    c.cfg.BaseURL + "/osdr/data/search",
		params: url.Values{"term": {studyID}, "size": {"1"}},
	}
	doc, err := c.fetchJSON(ctx, e)
	c.recordCall("study_search", 1, err)
	if err != nil {
		return StudyDetails{}, err
	}

	p := Match(doc)
	if p.Shape != ShapeNestedHits || len(p.Items) == 0 {
		return StudyDetails{}, errs.WrapTransient(errs.ErrNotFound, "osdr", "detailsFromSearch", studyID)
	}
	hit := p.Items[0]
	src, _ := hit["_source"].(map[string]any)
	if src == nil || text(src, "Study Identifier") != studyID {
		return StudyDetails{}, errs.WrapTransient(errs.ErrNotFound, "osdr", "detailsFromSearch", "exact match for "+studyID)
	}

	d := fromSearchHit(hit)
	return StudyDetails{
		StudyID:        studyID,
		Title:          d.Title,
		Description:    d.Description,
		Organism:       d.Organism,
		Mission:        d.Mission,
		StudyType:      d.StudyType,
		ReleaseDate:    d.ReleaseDate,
		DataTypes:      d.DataTypes,
		ManagingCenter: d.ManagingCenter,
		FundingAgency:  d.FundingAgency,
		FlightProgram:  d.FlightProgram,
		SpaceProgram:   d.SpaceProgram,
		Accession:      d.Accession,
		DataSourceURL:  d.DataSourceURL,
		Publications:   list(src, "Study Publication Title"),
		Source:         "NASA OSDR Search API",
	}, nil
}

func (c *Client) detailsFromMetadata(ctx context.Context, studyID string) (StudyDetails, error) {
	meta, err := c.GetMetadata(ctx, studyID)
	if err != nil {
		return StudyDetails{}, err
	}

	if len(meta) == 0 {
		return StudyDetails{
			StudyID:     studyID,
			Title:       "Study " + studyID,
			Description: "This study has no public metadata available in NASA OSDR yet. It may be under embargo or in processing.",
			DataTypes:   []string{},
			StudyType:   "Unknown",
			Source:      "NASA OSDR API (No Data)",
			Message:     "No public metadata available for this study",
			NoData:      true,
		}, nil
	}

	mission := text(meta, "mission")
	if v, ok := meta["Mission"]; ok {
		mission = missionName(v)
	}
	return StudyDetails{
		StudyID:        studyID,
		Title:          textOr("Study "+studyID, meta, "Study Title", "title"),
		Description:    textOr("No description available", meta, "Study Description", "description"),
		Organism:       text(meta, "organism", "Organism"),
		Mission:        mission,
		StudyType:      text(meta, "Study Protocol Type", "study_type"),
		ReleaseDate:    text(meta, "Study Public Release Date", "release_date"),
		DataTypes:      nonEmpty(text(meta, "Study Assay Technology Type"), text(meta, "Study Assay Measurement Type")),
		ManagingCenter: text(meta, "Managing NASA Center"),
		FundingAgency:  text(meta, "Study Funding Agency"),
		Publications:   list(meta, "Study Publication Title"),
		Metadata:       meta,
		Timestamp:      text(meta, "last_modified", "created_date"),
		Source:         SourceName,
	}, nil
}
