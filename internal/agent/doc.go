// Package agent runs the decision loop that buys ad space on the grid. Each
// round starts a fresh conversation with a tool-calling model, seeded with a
// bounded summary of recent placements, and executes the requested actions
// until the model stops asking for tools.
package agent
