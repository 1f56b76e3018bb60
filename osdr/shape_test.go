package osdr

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) any {
	t.Helper()
	var doc any
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	return doc
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		shape     Shape
		items     int
		total     int
		hasTotal  bool
		firstItem string
	}{
		{
			name:  "nested hits with numeric total",
			raw:   `{"hits": {"total": 42, "hits": [{"_id": "a"}, {"_id": "b"}]}}`,
			shape: ShapeNestedHits, items: 2, total: 42, hasTotal: true,
		},
		{
			name:  "nested hits with object total",
			raw:   `{"hits": {"total": {"value": 7, "relation": "eq"}, "hits": [{"_id": "a"}]}}`,
			shape: ShapeNestedHits, items: 1, total: 7, hasTotal: true,
		},
		{
			name:  "flat hit list",
			raw:   `{"hits": [{"id": "OSD-1"}, "junk", {"id": "OSD-2"}], "total_hits": 2}`,
			shape: ShapeHitList, items: 2, total: 2, hasTotal: true,
		},
		{
			name:  "top-level list",
			raw:   `[{"accession": "OSD-1"}]`,
			shape: ShapeStudyList, items: 1,
		},
		{
			name:  "studies collection",
			raw:   `{"studies": [{"accession": "OSD-1"}, {"accession": "OSD-2"}]}`,
			shape: ShapeStudyCollection, items: 2,
		},
		{
			name:  "studies keyed by accession",
			raw:   `{"studies": {"OSD-2": {"title": "b"}, "OSD-1": {"title": "a"}, "bad": 3}}`,
			shape: ShapeStudyMap, items: 2, firstItem: "OSD-1",
		},
		{
			name:  "results list",
			raw:   `{"results": [{"id": "OSD-1"}], "total": 1}`,
			shape: ShapeResultList, items: 1, total: 1, hasTotal: true,
		},
		{name: "nested hits without inner list", raw: `{"hits": {"total": 3}}`, shape: ShapeUnrecognized},
		{name: "empty object", raw: `{}`, shape: ShapeUnrecognized},
		{name: "string", raw: `"maintenance"`, shape: ShapeUnrecognized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Match(decode(t, tt.raw))
			assert.Equal(t, tt.shape, p.Shape, p.Shape.String())
			assert.Len(t, p.Items, tt.items)
			assert.Equal(t, tt.total, p.Total)
			assert.Equal(t, tt.hasTotal, p.HasTotal)
			if tt.firstItem != "" {
				assert.Equal(t, tt.firstItem, p.Items[0]["id"])
			}
		})
	}
}

func TestNormalize_KeepsOnlyCanonicalRecords(t *testing.T) {
	shapes := map[string]string{
		"nested hits": `{"hits": {"hits": [
			{"_id": "x1", "_source": {"Study Identifier": "OSD-9", "Study Title": "Rodent Research"}},
			{"_id": "x2", "_source": {"Study Identifier": "junk-1", "Study Title": "Noise"}}
		]}}`,
		"flat hit list": `{"hits": [
			{"id": "OSD-9", "title": "Rodent Research"},
			{"id": "junk-1", "title": "Noise"}
		]}`,
		"direct study list": `[
			{"accession": "OSD-9", "title": "Rodent Research"},
			{"accession": "junk-1", "title": "Noise"}
		]`,
	}

	for name, raw := range shapes {
		t.Run(name, func(t *testing.T) {
			records, dropped := normalize(Match(decode(t, raw)))
			require.Len(t, records, 1)
			assert.Equal(t, "OSD-9", records[0].ID)
			assert.Equal(t, "Rodent Research", records[0].Title)
			assert.Equal(t, 1, dropped)
		})
	}
}

func TestCanonical(t *testing.T) {
	for _, id := range []string{"OSD-9", "GLDS-104", "GLDS_7"} {
		assert.True(t, Canonical(id), id)
	}
	for _, id := range []string{"", "osd-9", "junk-1", "OSD9", "Patent-1", "unknown"} {
		assert.False(t, Canonical(id), id)
	}
}

func TestFromSearchHit(t *testing.T) {
	hit := decode(t, `{
		"_id": "GLDS-48",
		"_source": {
			"Project Title": "Mouse liver",
			"Material Type": "Liver",
			"Mission": {"Name": "RR-1", "Start Date": "2014-09-21"},
			"Study Assay Technology Type": "RNA Sequencing",
			"Study Assay Measurement Type": "transcription profiling",
			"Study Publication Title": "Liver changes in spaceflight",
			"Flight Program": "ISS",
			"Accession": "GLDS-48",
			"Managing NASA Center": "Ames Research Center",
			"Study Public Release Date": 1398816000
		}
	}`).(map[string]any)

	d := fromSearchHit(hit)
	assert.Equal(t, "GLDS-48", d.ID, "falls back to the hit id")
	assert.Equal(t, "Mouse liver", d.Title)
	assert.Equal(t, "Liver", d.Organism)
	assert.Equal(t, "RR-1", d.Mission)
	assert.Equal(t, "1398816000", d.ReleaseDate)
	assert.Equal(t, []string{"RNA Sequencing", "transcription profiling"}, d.DataTypes)
	assert.Equal(t, "Space Biology", d.StudyType)
	assert.Equal(t, 1, d.Publications)
	assert.Equal(t, 1, d.Samples)
	assert.Equal(t, "ISS", d.FlightProgram)
	assert.Equal(t, "Ames Research Center", d.ManagingCenter)
}

func TestFromSearchHit_Defaults(t *testing.T) {
	d := fromSearchHit(map[string]any{"_source": map[string]any{
		"Study Identifier": "OSD-1",
		"Mission":          map[string]any{"End Date": "2020-01-01"},
	}})
	assert.Equal(t, "OSDR Study", d.Title)
	assert.Equal(t, UnknownOrganism, d.Organism)
	assert.Equal(t, UnknownMission, d.Mission)
	assert.Equal(t, "2020-01-01", d.ReleaseDate, "mission dates back the release date")
	assert.Equal(t, []string{"Biological", "Space Research"}, d.DataTypes)
	assert.Equal(t, 0, d.Publications)
}

func TestFromHit(t *testing.T) {
	d := fromHit(map[string]any{
		"OSD_STUDY_ID":      "OSD-3",
		"study_title":       "Plants",
		"abstract":          "Arabidopsis on ISS",
		"species":           "Arabidopsis thaliana",
		"flight":            "SpaceX CRS-3",
		"data_type":         "RNA-seq",
		"date":              "2023-08-15",
		"publication_count": float64(3),
		"samples":           "24",
	})
	assert.Equal(t, "OSD-3", d.ID)
	assert.Equal(t, "Plants", d.Title)
	assert.Equal(t, "Arabidopsis on ISS", d.Description)
	assert.Equal(t, "Arabidopsis thaliana", d.Organism)
	assert.Equal(t, "SpaceX CRS-3", d.Mission)
	assert.Equal(t, []string{"RNA-seq"}, d.DataTypes)
	assert.Equal(t, "2023-08-15", d.ReleaseDate)
	assert.Equal(t, "Unknown", d.StudyType)
	assert.Equal(t, 3, d.Publications)
	assert.Equal(t, 24, d.Samples)
}

func TestFromStudy(t *testing.T) {
	d := fromStudy(map[string]any{
		"study_id":       "GLDS-7",
		"organisms":      []any{"", "Mus musculus", "Rattus norvegicus"},
		"flight_program": "Bion-M1",
		"assay_types":    []any{"Proteome"},
		"project_type":   "Flight",
		"publications":   []any{"a", "b"},
		"sample_count":   float64(12),
		"has_files":      true,
		"file_count":     float64(4),
	})
	assert.Equal(t, "GLDS-7", d.ID)
	assert.Equal(t, "Untitled Study", d.Title)
	assert.Equal(t, "Mus musculus", d.Organism)
	assert.Equal(t, "Bion-M1", d.Mission)
	assert.Equal(t, []string{"Proteome"}, d.DataTypes)
	assert.Equal(t, "Flight", d.StudyType)
	assert.Equal(t, 2, d.Publications)
	assert.Equal(t, 12, d.Samples)
	assert.True(t, d.HasFiles)
	assert.Equal(t, 4, d.FileCount)
}

func TestFromStudyEntry(t *testing.T) {
	p := Match(decode(t, `{"studies": {"OSD-5": {"name": "Yeast", "species": "Saccharomyces cerevisiae"}}}`))
	records, dropped := normalize(p)
	require.Len(t, records, 1)
	assert.Zero(t, dropped)
	assert.Equal(t, "OSD-5", records[0].ID)
	assert.Equal(t, "Yeast", records[0].Title)
	assert.Equal(t, "Saccharomyces cerevisiae", records[0].Organism)
}
