package window

import (
	"context"
	"fmt"

	"github.com/goccy/go-yaml"

	"github.com/GriffinCanCode/AgentOS/winshell/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/shared/utils"
)

// ParseMenuYAML decodes a menu description such as
//
//	title: File
//	items:
//	  - id: open
//	    title: Open…
//	    enabled: true
//	  - separator: true
//	  - id: quit
//	    title: Quit
//	    enabled: true
func ParseMenuYAML(data []byte) (types.MenuDescription, error) {
	var desc types.MenuDescription
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return desc, fmt.Errorf("parse menu: %w", err)
	}
	if err := utils.ValidateTitle(desc.Title); err != nil {
		return desc, fmt.Errorf("menu: %w", err)
	}
	if err := validateMenu(&desc, make(map[string]struct{})); err != nil {
		return desc, err
	}
	return desc, nil
}

func validateMenu(desc *types.MenuDescription, seen map[string]struct{}) error {
	for i, item := range desc.Items {
		if item.Separator {
			continue
		}
		if item.ID == "" {
			return fmt.Errorf("menu %q: item %d has no id", desc.Title, i)
		}
		if err := utils.ValidateItemID(item.ID, "item id"); err != nil {
			return fmt.Errorf("menu %q: %w", desc.Title, err)
		}
		if err := utils.ValidateTitle(item.Title); err != nil {
			return fmt.Errorf("menu %q: item %q: %w", desc.Title, item.ID, err)
		}
		if _, dup := seen[item.ID]; dup {
			return fmt.Errorf("menu %q: duplicate item id %q", desc.Title, item.ID)
		}
		seen[item.ID] = struct{}{}
		if item.Submenu != nil {
			if err := validateMenu(item.Submenu, seen); err != nil {
				return err
			}
		}
	}
	return nil
}

// MenuFromDescription builds a Menu from a parsed description, attaching
// actions by item id.
func (m *Manager) MenuFromDescription(desc types.MenuDescription, actions map[string]func(context.Context)) *Menu {
	items := make([]MenuItem, 0, len(desc.Items))
	for _, d := range desc.Items {
		item := MenuItem{
			ID:        d.ID,
			Title:     d.Title,
			Disabled:  !d.Enabled,
			Checked:   d.Checked,
			Separator: d.Separator,
			Action:    actions[d.ID],
		}
		if d.Submenu != nil {
			item.Submenu = m.MenuFromDescription(*d.Submenu, actions)
		}
		items = append(items, item)
	}
	return m.NewMenu(desc.Title, items...)
}
