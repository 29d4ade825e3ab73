// Package policy decides whether an agent proposed action may run on its own
// or needs a human in the loop. The decision is a pure function of the
// action, its self-reported confidence and impact, and the module policy.
package policy
