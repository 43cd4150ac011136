package store

import (
	"github.com/pitabwire/fieldform/model"
)

// formColumns selects a form header joined with its survey group. Both SQL
// stores alias the tables as f and g.
const formColumns = `f.id, f.survey_group_id, f.name, f.version, f.location, f.filename,
       f.language, f.resources_downloaded, f.deleted, f.app, f.alias,
       f.registration_form_id,
       COALESCE(g.name, ''), COALESCE(g.registration_form_id, ''),
       COALESCE(g.monitored, FALSE)`

const formFrom = ` FROM forms f LEFT JOIN survey_groups g ON g.id = f.survey_group_id`

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanForm(row rowScanner) (model.Form, error) {
	var f model.Form
	err := row.Scan(
		&f.ID, &f.SurveyGroupID, &f.Name, &f.Version, &f.Location, &f.Filename,
		&f.Language, &f.ResourcesDownloaded, &f.Deleted, &f.App, &f.Alias,
		&f.RegistrationFormID,
		&f.SurveyGroup.Name, &f.SurveyGroup.RegistrationFormID,
		&f.SurveyGroup.Monitored,
	)
	if err != nil {
		return model.Form{}, err
	}
	f.SurveyGroup.ID = f.SurveyGroupID
	return f, nil
}
