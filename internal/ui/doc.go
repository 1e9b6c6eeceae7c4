// Package ui implements the Bubble Tea terminal interface.
//
// The model holds no entity data of its own: rows come from the cache
// store through the navigation model's Lister, so a background refresh
// is visible on the next render. Keystrokes either move state locally
// (no I/O), dispatch a refresh to the fetch pipeline, or launch an
// external process (fzf, pager, browser). Subprocesses that need the
// terminal run through tea.ExecProcess, which releases the screen
// before the child starts and reclaims it on every exit path.
package ui
