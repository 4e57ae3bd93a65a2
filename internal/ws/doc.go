// Package ws implements the realtime hub: one WebSocket endpoint serving
// three sub-protocols selected by the channel query parameter.
//
// The package implements:
//   - Hub: process-wide state (rooms, notification registry, relay key)
//   - RoomManager: workspace chatrooms with ordered fan-out
//   - NotificationRegistry: one live notification connection per user
//   - Handler: upgrade, handshake checks, and the read/write pumps
//
// Channels:
//   - notification: authenticated, receive-only; fed by the backend relay
//   - chatroom: authenticated workspace members; every frame is broadcast
//     to the room as a message envelope
//   - backend: the task API, authenticated by the shared relay key; each
//     frame is {userId, message} and is delivered to that user's
//     notification connection
//
// Handshake failures are reported as close frames after the upgrade:
// 4001 bad parameters, 4002 bad session, 4003 not a member, 4004 bad relay
// key, 1011 when a collaborator fails. A client dropped for a full send
// buffer is closed with 1013.
package ws
