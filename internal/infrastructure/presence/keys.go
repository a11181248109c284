// Package presence provides the concrete presence store adapters and the
// shared key layout for live visitor state.
package presence

import (
	"fmt"
	"time"

	"github.com/lvsuno/citinfos-go/internal/domain/presence"
)

// Key layout. Every live value for a community hangs off one of these
// prefixes so a community's presence state can be inspected (and expired)
// independently.
//
//	presence:entry:{community}:{identity}  hash   VisitorEntry fields
//	presence:auth:{community}              set    authenticated identities
//	presence:anon:{community}              set    anonymous identities
//	presence:divisions:{community}         hash   division -> live gauge
//	presence:crossdiv:{community}          zset   "home->visited" -> ledger
//	presence:peak:{window}:{community}:{window key}  string  peak count
//	presence:communities                   set    communities with live state

// ActiveCommunitiesKey is the registry set of communities that have seen
// presence activity. The reaper sweeps the communities listed here.
const ActiveCommunitiesKey = "presence:communities"

func EntryKey(communityID string, identity presence.Identity) string {
	return fmt.Sprintf("presence:entry:%s:%s", communityID, identity)
}

func AuthSetKey(communityID string) string {
	return fmt.Sprintf("presence:auth:%s", communityID)
}

func AnonSetKey(communityID string) string {
	return fmt.Sprintf("presence:anon:%s", communityID)
}

func DivisionsKey(communityID string) string {
	return fmt.Sprintf("presence:divisions:%s", communityID)
}

func CrossDivisionKey(communityID string) string {
	return fmt.Sprintf("presence:crossdiv:%s", communityID)
}

// PeakKey builds the window-aligned peak counter key. The window component
// rolls over with the calendar (date, ISO week, month), which is what
// resets the peak.
func PeakKey(communityID string, window presence.PeakWindow, at time.Time) string {
	return fmt.Sprintf("presence:peak:%s:%s:%s", window, communityID, WindowKey(window, at))
}

// WindowKey formats the calendar component for a peak window.
func WindowKey(window presence.PeakWindow, at time.Time) string {
	at = at.UTC()
	switch window {
	case presence.PeakWeekly:
		year, week := at.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case presence.PeakMonthly:
		return at.Format("2006-01")
	default:
		return at.Format("2006-01-02")
	}
}
