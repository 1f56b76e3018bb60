package osdr

import (
	"strconv"
	"strings"
)

// Placeholder values the upstream uses when a field is missing.
const (
	UnknownOrganism = "Unknown"
	UnknownMission  = "Unknown Mission"
)

var canonicalPrefixes = []string{"OSD-", "GLDS-", "GLDS_"}

// Canonical reports whether id is an accession the engine keeps. Records
// with any other id are dropped during normalization.
func Canonical(id string) bool {
	for _, p := range canonicalPrefixes {
		if strings.HasPrefix(id, p) {
			return true
		}
	}
	return false
}

// Dataset is one normalized study record.
type Dataset struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Organism     string   `json:"organism,omitempty"`
	Mission      string   `json:"mission,omitempty"`
	DataTypes    []string `json:"data_types"`
	ReleaseDate  string   `json:"release_date,omitempty"`
	StudyType    string   `json:"study_type"`
	Publications int      `json:"publications"`
	Samples      int      `json:"samples"`

	FlightProgram  string `json:"flight_program,omitempty"`
	SpaceProgram   string `json:"space_program,omitempty"`
	ManagingCenter string `json:"managing_center,omitempty"`
	FundingAgency  string `json:"funding_agency,omitempty"`
	Accession      string `json:"accession,omitempty"`
	DataSourceURL  string `json:"data_source_url,omitempty"`
	HasFiles       bool   `json:"has_files,omitempty"`
	FileCount      int    `json:"file_count,omitempty"`
}

// normalize transforms every item with the mapping for p's shape and keeps
// canonical records only. dropped counts the rest.
func normalize(p Payload) (records []Dataset, dropped int) {
	transform := transformFor(p.Shape)
	if transform == nil {
		return nil, len(p.Items)
	}
	records = make([]Dataset, 0, len(p.Items))
	for _, item := range p.Items {
		d := transform(item)
		if !Canonical(d.ID) {
			dropped++
			continue
		}
		records = append(records, d)
	}
	return records, dropped
}

func transformFor(s Shape) func(map[string]any) Dataset {
	switch s {
	case ShapeNestedHits:
		return fromSearchHit
	case ShapeHitList, ShapeResultList:
		return fromHit
	case ShapeStudyList, ShapeStudyCollection:
		return fromStudy
	case ShapeStudyMap:
		return fromStudyEntry
	default:
		return nil
	}
}

// fromSearchHit maps a search-engine hit. Fields live under "_source" and
// use the repository's human-readable names.
func fromSearchHit(hit map[string]any) Dataset {
	src, _ := hit["_source"].(map[string]any)
	if src == nil {
		src = map[string]any{}
	}

	d := Dataset{
		ID:             text(src, "Study Identifier", "Project Identifier"),
		Title:          textOr("OSDR Study", src, "Study Title", "Project Title"),
		Description:    text(src, "Study Description", "Project Description"),
		Organism:       textOr(UnknownOrganism, src, "organism", "Material Type"),
		Mission:        missionName(src["Mission"]),
		ReleaseDate:    text(src, "Study Public Release Date", "Project Release Date"),
		DataTypes:      nonEmpty(text(src, "Study Assay Technology Type"), text(src, "Study Assay Technology Platform"), text(src, "Study Assay Measurement Type")),
		StudyType:      textOr("Space Biology", src, "Study Protocol Type"),
		Samples:        1,
		FlightProgram:  text(src, "Flight Program"),
		SpaceProgram:   text(src, "Space Program"),
		ManagingCenter: text(src, "Managing NASA Center"),
		FundingAgency:  text(src, "Study Funding Agency"),
		Accession:      text(src, "Accession"),
		DataSourceURL:  text(src, "Authoritative Source URL"),
	}
	if d.ID == "" {
		d.ID = text(hit, "_id")
	}
	if d.ReleaseDate == "" {
		if m, ok := src["Mission"].(map[string]any); ok {
			d.ReleaseDate = text(m, "Start Date", "End Date")
		}
	}
	if len(d.DataTypes) == 0 {
		d.DataTypes = []string{"Biological", "Space Research"}
	}
	if text(src, "Study Publication Title") != "" {
		d.Publications = 1
	}
	return d
}

// fromHit maps an item of a flat hit list.
func fromHit(hit map[string]any) Dataset {
	return Dataset{
		ID:           text(hit, "id", "OSD_STUDY_ID", "study_id"),
		Title:        textOr("Untitled Study", hit, "title", "name", "study_title"),
		Description:  text(hit, "description", "summary", "abstract"),
		Organism:     text(hit, "organism", "organism_name", "species"),
		Mission:      text(hit, "mission", "mission_name", "flight"),
		DataTypes:    list(hit, "data_types", "data_type"),
		ReleaseDate:  text(hit, "release_date", "created_date", "date"),
		StudyType:    textOr("Unknown", hit, "study_type"),
		Publications: count(hit, "publication_count", "publications"),
		Samples:      count(hit, "sample_count", "samples"),
	}
}

// fromStudy maps a study object from a plain study listing.
func fromStudy(study map[string]any) Dataset {
	d := Dataset{
		ID:          text(study, "accession", "study_id", "id"),
		Title:       textOr("Untitled Study", study, "title", "study_title"),
		Description: text(study, "description", "study_description"),
		Organism:    text(study, "organism", "organisms"),
		Mission:     text(study, "mission", "flight_program"),
		DataTypes:   list(study, "assay_types", "data_types"),
		ReleaseDate: text(study, "release_date", "public_release_date"),
		StudyType:   textOr("Space Biology", study, "study_type", "project_type"),
		Samples:     count(study, "sample_count"),
		FileCount:   count(study, "file_count"),
	}
	if pubs, ok := study["publications"].([]any); ok {
		d.Publications = len(pubs)
	}
	d.HasFiles, _ = study["has_files"].(bool)
	return d
}

// fromStudyEntry maps one value of a studies object keyed by accession.
func fromStudyEntry(info map[string]any) Dataset {
	id := text(info, "id")
	return Dataset{
		ID:           id,
		Title:        textOr(id, info, "title", "name"),
		Description:  text(info, "description", "summary"),
		Organism:     text(info, "organism", "species"),
		Mission:      text(info, "mission", "flight"),
		DataTypes:    list(info, "data_types"),
		ReleaseDate:  text(info, "release_date", "date"),
		StudyType:    textOr("Unknown", info, "study_type"),
		Publications: count(info, "publication_count"),
		Samples:      count(info, "sample_count"),
	}
}

// missionName reads a mission that is either {"Name": ...} or a plain string.
func missionName(v any) string {
	switch m := v.(type) {
	case map[string]any:
		return textOr(UnknownMission, m, "Name")
	case string:
		if s := strings.TrimSpace(m); s != "" {
			return s
		}
	}
	return UnknownMission
}

// text returns the first present value among keys as a string. Numbers are
// formatted, and for arrays the first usable element is taken.
func text(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := scalar(m[k]); s != "" {
			return s
		}
	}
	return ""
}

func textOr(def string, m map[string]any, keys ...string) string {
	if s := text(m, keys...); s != "" {
		return s
	}
	return def
}

func scalar(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []any:
		for _, e := range t {
			if s := scalar(e); s != "" {
				return s
			}
		}
	}
	return ""
}

// list returns the first non-empty value among keys as a string slice. A
// plain string becomes a one-element slice.
func list(m map[string]any, keys ...string) []string {
	for _, k := range keys {
		switch t := m[k].(type) {
		case []any:
			out := make([]string, 0, len(t))
			for _, e := range t {
				if s := scalar(e); s != "" {
					out = append(out, s)
				}
			}
			if len(out) > 0 {
				return out
			}
		case string:
			if s := strings.TrimSpace(t); s != "" {
				return []string{s}
			}
		}
	}
	return []string{}
}

// count returns the first non-zero numeric value among keys.
func count(m map[string]any, keys ...string) int {
	for _, k := range keys {
		switch t := m[k].(type) {
		case float64:
			if t != 0 {
				return int(t)
			}
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil && n != 0 {
				return n
			}
		}
	}
	return 0
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
