// Package assignment maps scoping keys to sets of hierarchy nodes along
// five dimensions: role, domain, package, billing account, and user. One
// generic store serves all five; a scope key holds exactly one record per
// dimension and assignment is a full replace, not a merge.
package assignment
