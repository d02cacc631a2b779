package domain

// Challenge is the parent work-set of a task. Only the fields the selector
// needs for visibility are modelled here.
type Challenge struct {
	ID        int64
	ProjectID int64
	Name      string
	Enabled   bool

	ProjectEnabled bool
}

// IsVisible reports whether tasks of the challenge may be handed out.
func (c *Challenge) IsVisible() bool {
	return c.Enabled && c.ProjectEnabled
}
