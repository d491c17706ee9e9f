// Package feed decodes live channel messages and dispatches them.
//
// Messages arrive as tagged JSON (`"type"`: pong, notification, update) and
// are decoded once at the boundary into a closed event type. The dispatcher
// routes each event to exactly one handler; unknown tags and unknown update
// components are logged and dropped for forward compatibility.
package feed
