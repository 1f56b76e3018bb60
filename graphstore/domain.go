package graphstore

import (
	"context"
	"fmt"
	"strings"

	errs "github.com/Neil2813/Nexus/errors"
)

// Study is the subset of a dataset record the graph keeps.
type Study struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Organism      string   `json:"organism"`
	Mission       string   `json:"mission"`
	ResearchAreas []string `json:"research_areas,omitempty"`
}

// AddStudy upserts the study node "study_<id>".
func (s *Store) AddStudy(ctx context.Context, st Study) (string, error) {
	if strings.TrimSpace(st.ID) == "" {
		return "", errs.WrapInvalid(errs.ErrInvalidData, "graphstore", "AddStudy", "study id is required")
	}
	label := st.Title
	if label == "" {
		label = st.ID
	}
	return s.AddNode(ctx, Node{
		ID:    StudyNodeID(st.ID),
		Label: label,
		Type:  TypeStudy,
		Properties: map[string]any{
			"study_id":    st.ID,
			"title":       st.Title,
			"description": st.Description,
			"organism":    st.Organism,
			"mission":     st.Mission,
		},
	})
}

func (s *Store) addNamed(ctx context.Context, id, name, nodeType string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errs.WrapInvalid(errs.ErrInvalidData, "graphstore", "add "+nodeType, "name is required")
	}
	return s.AddNode(ctx, Node{
		ID:         id,
		Label:      name,
		Type:       nodeType,
		Properties: map[string]any{"name": name},
	})
}

// AddOrganism upserts an organism node. Adding "Mus musculus" twice yields a
// single node "organism_mus_musculus".
func (s *Store) AddOrganism(ctx context.Context, name string) (string, error) {
	return s.addNamed(ctx, OrganismNodeID(name), name, TypeOrganism)
}

// AddMission upserts a mission node.
func (s *Store) AddMission(ctx context.Context, name string) (string, error) {
	return s.addNamed(ctx, MissionNodeID(name), name, TypeMission)
}

// AddResearchArea upserts a research area node.
func (s *Store) AddResearchArea(ctx context.Context, name string) (string, error) {
	return s.addNamed(ctx, ResearchAreaNodeID(name), name, TypeResearchArea)
}

// LinkStudyOrganism ensures the organism exists and links the study to it.
func (s *Store) LinkStudyOrganism(ctx context.Context, studyID, organism string) (string, error) {
	if _, err := s.AddOrganism(ctx, organism); err != nil {
		return "", err
	}
	return s.AddEdge(ctx, NewEdge(StudyNodeID(studyID), OrganismNodeID(organism), LabelStudies, nil))
}

// LinkStudyMission ensures the mission exists and links the study to it.
func (s *Store) LinkStudyMission(ctx context.Context, studyID, mission string) (string, error) {
	if _, err := s.AddMission(ctx, mission); err != nil {
		return "", err
	}
	return s.AddEdge(ctx, NewEdge(StudyNodeID(studyID), MissionNodeID(mission), LabelConductedOn, nil))
}

// LinkStudyResearchArea ensures the area exists and links the study to it.
func (s *Store) LinkStudyResearchArea(ctx context.Context, studyID, area string) (string, error) {
	if _, err := s.AddResearchArea(ctx, area); err != nil {
		return "", err
	}
	return s.AddEdge(ctx, NewEdge(StudyNodeID(studyID), ResearchAreaNodeID(area), LabelInvestigates, nil))
}

// BuildReport summarizes one BuildFromDatasets run.
type BuildReport struct {
	Studies   int      `json:"studies"`
	Links     int      `json:"links"`
	Skipped   int      `json:"skipped"`
	Failures  []string `json:"failures,omitempty"`
	Providers []string `json:"providers,omitempty"`
}

func isPlaceholder(v string) bool {
	switch strings.TrimSpace(v) {
	case "", "Unknown", "Unknown Mission":
		return true
	}
	return false
}

// BuildFromDatasets adds every study and links it to its organism, mission
// and research areas. A failed study does not stop the others.
func (s *Store) BuildFromDatasets(ctx context.Context, studies []Study) BuildReport {
	var rep BuildReport
	providers := map[string]bool{}
	note := func(provider string) {
		if provider != "" && !providers[provider] {
			providers[provider] = true
			rep.Providers = append(rep.Providers, provider)
		}
	}

	for _, st := range studies {
		if ctx.Err() != nil {
			rep.Failures = append(rep.Failures, ctx.Err().Error())
			break
		}
		if strings.TrimSpace(st.ID) == "" {
			rep.Skipped++
			continue
		}

		provider, err := s.AddStudy(ctx, st)
		if err != nil {
			rep.Failures = append(rep.Failures, fmt.Sprintf("%s: %v", st.ID, err))
			continue
		}
		note(provider)
		rep.Studies++

		link := func(what string, fn func(context.Context, string, string) (string, error), value string) {
			if isPlaceholder(value) {
				return
			}
			provider, err := fn(ctx, st.ID, value)
			if err != nil {
				rep.Failures = append(rep.Failures, fmt.Sprintf("%s %s %q: %v", st.ID, what, value, err))
				return
			}
			note(provider)
			rep.Links++
		}
		link("organism", s.LinkStudyOrganism, st.Organism)
		link("mission", s.LinkStudyMission, st.Mission)
		for _, area := range st.ResearchAreas {
			link("research area", s.LinkStudyResearchArea, area)
		}
	}

	s.logger.Info("built graph from datasets",
		"studies", rep.Studies, "links", rep.Links, "skipped", rep.Skipped, "failures", len(rep.Failures))
	return rep
}

// researchKeywords maps each research area to the terms that indicate it.
var researchKeywords = []struct {
	area  string
	terms []string
}{
	{"Microgravity Effects", []string{"microgravity", "weightless", "spaceflight", "unloading"}},
	{"Space Radiation", []string{"radiation", "cosmic ray", "ionizing", "heavy ion"}},
	{"Circadian Rhythms", []string{"circadian", "sleep", "clock gene"}},
	{"Bone Density", []string{"bone", "osteo", "skeletal"}},
	{"Muscle Atrophy", []string{"muscle", "atrophy", "sarcopenia"}},
	{"Gene Expression", []string{"gene expression", "transcriptom", "rna-seq", "rna seq", "microarray"}},
}

// InferResearchAreas returns the research areas whose terms occur in text,
// in a fixed order.
func InferResearchAreas(text string) []string {
	lower := strings.ToLower(text)
	var areas []string
	for _, r := range researchKeywords {
		for _, term := range r.terms {
			if strings.Contains(lower, term) {
				areas = append(areas, r.area)
				break
			}
		}
	}
	return areas
}
