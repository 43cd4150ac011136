package definition

import (
	"fmt"
	"sort"

	"github.com/pitabwire/fieldform/model"
)

// Catalog lists the definitions installed under a forms directory, reading
// them through a FormCache.
type Catalog struct {
	dir   string
	cache *FormCache
}

// NewCatalog creates a Catalog over dir.
func NewCatalog(dir string, cache *FormCache) *Catalog {
	return &Catalog{dir: dir, cache: cache}
}

// List returns every installed definition ordered by form id. Files that no
// longer parse are skipped.
func (c *Catalog) List() ([]LoadedForm, error) {
	paths, err := InstalledFiles(c.dir)
	if err != nil {
		return nil, err
	}

	forms := make([]LoadedForm, 0, len(paths))
	for _, path := range paths {
		lf, err := c.cache.Get(path)
		if err != nil {
			continue
		}
		forms = append(forms, lf)
	}
	sort.SliceStable(forms, func(i, j int) bool {
		return forms[i].Form.ID < forms[j].Form.ID
	})
	return forms, nil
}

// Find returns the installed definition of form id.
func (c *Catalog) Find(id string) (LoadedForm, error) {
	forms, err := c.List()
	if err != nil {
		return LoadedForm{}, err
	}
	for _, lf := range forms {
		if lf.Form.ID == id {
			return lf, nil
		}
	}
	return LoadedForm{}, model.NewNotFoundError(fmt.Sprintf("form %s is not installed", id))
}
