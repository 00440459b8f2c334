// Package match answers whether a store or dispose combination was recorded
// in an event log, and gathers the candidates a failure message should show.
package match

import (
	"github.com/jacktea/blobcheck/pkg/eventlog"
)

// Scope selects which owner's events a query considers: one storage instance
// or any of them.
type Scope struct {
	owner    eventlog.OwnerID
	instance bool
}

// Instance scopes a query to the events produced by owner.
func Instance(owner eventlog.OwnerID) Scope {
	return Scope{owner: owner, instance: true}
}

// Any scopes a query to every recorded event.
func Any() Scope { return Scope{} }

// IsInstance reports whether the scope is bound to one owner.
func (s Scope) IsInstance() bool { return s.instance }

// Owner returns the owner of an instance scope.
func (s Scope) Owner() eventlog.OwnerID { return s.owner }

// Resolve narrows table to the scope. Keys and recording order are preserved.
func Resolve(table *eventlog.Table, s Scope) *eventlog.Table {
	if !s.instance {
		if table == nil {
			return eventlog.NewTable()
		}
		return table
	}
	return table.Filter(func(ev eventlog.Event) bool { return ev.Owner == s.owner })
}
