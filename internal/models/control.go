package models

// Control is one taxonomy requirement a framework defines; the unit
// of evaluation. Controls are loaded once per framework and read-only
// for the life of a run.
type Control struct {
	ControlID     string   `yaml:"id" json:"control_id" validate:"required"`
	Name          string   `yaml:"name" json:"name"`
	FrameworkRefs []string `yaml:"framework_refs" json:"framework_refs"`
	QueryText     string   `yaml:"query" json:"query_text" validate:"required"`
	Description   string   `yaml:"description" json:"description"`
	Synonyms      []string `yaml:"synonyms" json:"synonyms,omitempty"`
}

// RetrievalQuery returns the text submitted to the corpus index for
// this control: the query plus any synonym expansions.
func (c Control) RetrievalQuery() string {
	q := c.QueryText
	for _, s := range c.Synonyms {
		q += " | " + s
	}
	return q
}

// Taxonomy is the full control set for one compliance framework.
type Taxonomy struct {
	Framework string    `yaml:"framework" json:"framework" validate:"required"`
	Name      string    `yaml:"name" json:"name"`
	Controls  []Control `yaml:"controls" json:"controls" validate:"required,min=1,dive"`
}
