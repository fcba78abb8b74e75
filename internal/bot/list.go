package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/RentBot/internal/conversation"
)

// list renders one page of kind starting at offset and remembers where the
// next page starts.
func (b *Bot) list(ctx context.Context, userID string, kind listKind, offset int) (string, error) {
	lines, err := b.render(ctx, kind)
	if err != nil {
		return "", err
	}
	total := len(lines)
	if total == 0 {
		b.forgetPage(userID)
		return fmt.Sprintf("You don't have any %s yet.", kind), nil
	}
	if offset >= total {
		b.forgetPage(userID)
		return MsgNothingMore, nil
	}

	end := min(offset+b.pageSize, total)
	var sb strings.Builder
	if offset == 0 {
		fmt.Fprintf(&sb, "Here are your %s:\n", kind)
	} else {
		fmt.Fprintf(&sb, "More %s:\n", kind)
	}
	for i := offset; i < end; i++ {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, lines[i])
	}

	if end < total {
		fmt.Fprintf(&sb, "\nShowing %d-%d of %d. Say \"more\" to see the next page.", offset+1, end, total)
		b.mu.Lock()
		b.pages[userID] = page{kind: kind, offset: end, total: total}
		b.mu.Unlock()
	} else {
		b.forgetPage(userID)
	}
	slog.Debug("Bot.list", "userID", userID, "kind", kind, "offset", offset, "total", total)
	return strings.TrimRight(sb.String(), "\n"), nil
}

// more continues the user's last listing.
func (b *Bot) more(ctx context.Context, userID string) (string, error) {
	b.mu.Lock()
	pg, found := b.pages[userID]
	b.mu.Unlock()
	if !found {
		return MsgNothingMore, nil
	}
	return b.list(ctx, userID, pg.kind, pg.offset)
}

func (b *Bot) forgetPage(userID string) {
	b.mu.Lock()
	delete(b.pages, userID)
	b.mu.Unlock()
}

// render formats every record of kind, one line each, in store order.
func (b *Bot) render(ctx context.Context, kind listKind) ([]string, error) {
	switch kind {
	case listProperties:
		properties, err := b.records.ListProperties(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("failed to list properties: %w", err)
		}
		lines := make([]string, len(properties))
		for i, p := range properties {
			lines[i] = fmt.Sprintf("%s - %s (%s, %d sq ft)", p.Name, p.Address, p.Type, p.Size)
		}
		return lines, nil

	case listUnits:
		units, err := b.records.ListUnits(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("failed to list units: %w", err)
		}
		lines := make([]string, len(units))
		for i, u := range units {
			status := "occupied"
			if u.IsAvailable {
				status = "available"
			}
			lines[i] = fmt.Sprintf("%s - floor %s, $%s/month, %s", u.UnitID, u.Floor, conversation.FormatMoney(u.Rent), status)
		}
		return lines, nil

	case listTenants:
		tenants, err := b.records.ListTenants(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("failed to list tenants: %w", err)
		}
		unitIDs := make(map[string]string)
		lines := make([]string, len(tenants))
		for i, t := range tenants {
			unitID, seen := unitIDs[t.UnitID]
			if !seen {
				unitID = "unknown unit"
				if u, err := b.records.GetUnit(ctx, t.UnitID); err == nil && u != nil {
					unitID = u.UnitID
				}
				unitIDs[t.UnitID] = unitID
			}
			lines[i] = fmt.Sprintf("%s (%s) - unit %s, $%s/month due on day %d",
				t.Name, t.TenantID, unitID, conversation.FormatMoney(t.RentInfo.Amount), t.RentInfo.DueDate)
		}
		return lines, nil
	}
	return nil, fmt.Errorf("unknown list kind: %s", kind)
}
