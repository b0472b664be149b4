package types

// MenuItemDescription is the serialized form of one menu item.
type MenuItemDescription struct {
	ID        string           `json:"id" yaml:"id"`
	Title     string           `json:"title" yaml:"title"`
	Enabled   bool             `json:"enabled" yaml:"enabled"`
	Checked   bool             `json:"checked,omitempty" yaml:"checked"`
	Separator bool             `json:"separator,omitempty" yaml:"separator"`
	Submenu   *MenuDescription `json:"submenu,omitempty" yaml:"submenu"`
}

// MenuDescription is the declarative menu tree sent on materialization.
type MenuDescription struct {
	Title string                `json:"title,omitempty" yaml:"title"`
	Items []MenuItemDescription `json:"items" yaml:"items"`
}

// Find returns the item with the given id, searching submenus depth first.
func (d *MenuDescription) Find(id string) (MenuItemDescription, bool) {
	if d == nil {
		return MenuItemDescription{}, false
	}
	for _, item := range d.Items {
		if !item.Separator && item.ID == id {
			return item, true
		}
		if found, ok := item.Submenu.Find(id); ok {
			return found, true
		}
	}
	return MenuItemDescription{}, false
}

// PopupMenuRequest is the showPopupMenu payload.
type PopupMenuRequest struct {
	Handle         MenuHandle `json:"handle"`
	Position       Point      `json:"position"`
	TrackingRect   *Rect      `json:"trackingRect,omitempty"`
	ItemRect       *Rect      `json:"itemRect,omitempty"`
	PreselectFirst bool       `json:"preselectFirst"`
}

// PopupMenuResponse reports the outcome of popup tracking.
type PopupMenuResponse struct {
	ItemSelected bool   `json:"itemSelected"`
	ItemID       string `json:"itemId,omitempty"`
}
