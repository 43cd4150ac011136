package survey

import (
	"strings"

	"github.com/pitabwire/fieldform/model"
)

// defaultVersion is assigned to a form whose definition declares no positive
// version.
const defaultVersion = 1.0

// Deployment identifies the running instance that archives must target.
type Deployment struct {
	// Identity is the app name definitions declare for this instance.
	Identity string
	// InstanceURL is the base URL of the instance's server. A declared app
	// contained in it is also accepted.
	InstanceURL string
}

// Accepts reports whether a definition declaring app belongs to this
// deployment. An empty declaration never matches.
func (d Deployment) Accepts(app string) bool {
	app = strings.TrimSpace(app)
	if app == "" {
		return false
	}
	if d.Identity != "" && strings.EqualFold(app, d.Identity) {
		return true
	}
	return d.InstanceURL != "" && strings.Contains(d.InstanceURL, app)
}

// Mapper turns a freshly installed definition header into the form record to
// persist.
type Mapper struct {
	deployment Deployment
}

// NewMapper creates a Mapper for the given deployment.
func NewMapper(d Deployment) *Mapper {
	return &Mapper{deployment: d}
}

// CheckDeployment returns model.ErrWrongDeployment when meta was built for a
// different instance.
func (m *Mapper) CheckDeployment(meta model.SurveyMetadata) error {
	if !m.deployment.Accepts(meta.App) {
		expected := m.deployment.Identity
		if expected == "" {
			expected = m.deployment.InstanceURL
		}
		return model.NewWrongDeploymentError(expected, meta.App)
	}
	return nil
}

// CreateOrUpdate checks the deployment and returns the record to persist for
// the definition at folder/fileName. existing is the installed form resolved
// from pathID, or nil.
func (m *Mapper) CreateOrUpdate(fileName, pathID string, existing *model.Form, folder string, meta model.SurveyMetadata) (*model.Form, error) {
	if err := m.CheckDeployment(meta); err != nil {
		return nil, err
	}

	incoming := model.Form{
		ID:            meta.ID,
		Name:          meta.Name,
		Version:       meta.Version,
		Location:      model.LocationSDCard,
		Filename:      InstalledFilename(folder, fileName),
		SurveyGroupID: meta.SurveyGroup.ID,
		SurveyGroup:   meta.SurveyGroup,
		App:           meta.App,
		Alias:         meta.Alias,
	}

	if existing == nil {
		if incoming.ID == "" {
			incoming.ID = pathID
		}
		if incoming.Name == "" {
			incoming.Name = NameFromFile(fileName)
		}
	}

	merged := Merge(existing, incoming)
	return &merged, nil
}

// Merge applies an incoming definition header to an installed form.
//
// Without an installed form the incoming record is used as is, with
// resources marked available. Otherwise only the location, filename, name
// (when supplied), survey group and version are taken from incoming; the
// version never moves backwards. A form left without a positive version gets
// 1.0.
func Merge(existing *model.Form, incoming model.Form) model.Form {
	if existing == nil {
		out := incoming
		out.ResourcesDownloaded = true
		if out.Version <= 0 {
			out.Version = defaultVersion
		}
		return out
	}

	out := *existing
	out.Location = incoming.Location
	out.Filename = incoming.Filename
	if incoming.Name != "" {
		out.Name = incoming.Name
	}
	out.SurveyGroup = incoming.SurveyGroup
	out.SurveyGroupID = incoming.SurveyGroupID
	if incoming.Version > 0 && incoming.Version >= out.Version {
		out.Version = incoming.Version
	}
	if out.Version <= 0 {
		out.Version = defaultVersion
	}
	return out
}
