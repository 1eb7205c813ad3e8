// Package mta implements a multi-touch attribution tracker: it observes page
// navigations, derives marketing attribution (UTM parameters, ad click
// identifiers, referrer) for each one, keeps a bounded journey of visit
// events across page loads, and reconciles the journey when the visitor
// logs in or signs up.
//
// The tracker is an explicit instance owned by the integrating application.
// It never touches process-global state: everything environmental (key-value
// storage, cookies, the current page, the clock, the delivery channel) is
// injected through the capability interfaces in this package. Any capability
// may be left nil, in which case the operations depending on it degrade to
// safe no-ops, because tracking must never break the host application.
package mta
