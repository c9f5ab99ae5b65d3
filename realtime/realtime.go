// Package realtime fans committed ops and presence traffic out to
// connected clients over socket.io. Rooms are keyed by project id.
package realtime

import (
	"net/http"

	"canvas-collab/core"

	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/engine.io/v2/utils"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

// Hub owns the socket.io server. It implements collab.Broadcaster so
// the append path can push committed ops without knowing about sockets.
type Hub struct {
	io *socketio.Server
}

func NewHub() *Hub {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(5000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	opts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})
	io := socketio.NewServer(nil, opts)

	io.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}
		me := socket.Id()
		myRoom := socketio.Room(me)
		io.To(myRoom).Emit("init-room")

		socket.On("join-project", func(datas ...any) {
			projectID, ok := firstString(datas)
			if !ok {
				return
			}
			room := socketio.Room(projectID)
			utils.Log().Printf("Socket %v has joined project %v\n", me, room)
			socket.Join(room)
			io.In(room).FetchSockets()(func(usersInRoom []*socketio.RemoteSocket, _ error) {
				if len(usersInRoom) <= 1 {
					io.To(myRoom).Emit("first-in-project")
				} else {
					socket.Broadcast().To(room).Emit("new-user", me)
				}

				roomUsers := []socketio.SocketId{}
				for _, user := range usersInRoom {
					roomUsers = append(roomUsers, user.Id())
				}
				io.In(room).Emit("project-user-change", roomUsers)
			})
		})

		// Cursor positions and other ephemeral presence traffic relay
		// peer-to-peer without touching the op log.
		socket.On("server-broadcast", func(datas ...any) {
			projectID, ok := firstString(datas)
			if !ok {
				return
			}
			socket.Broadcast().To(socketio.Room(projectID)).Emit("client-broadcast", datas[1:]...)
		})
		socket.On("server-volatile-broadcast", func(datas ...any) {
			projectID, ok := firstString(datas)
			if !ok {
				return
			}
			socket.Volatile().Broadcast().To(socketio.Room(projectID)).Emit("client-broadcast", datas[1:]...)
		})

		socket.On("disconnecting", func(datas ...any) {
			for _, currentRoom := range socket.Rooms().Keys() {
				io.In(currentRoom).FetchSockets()(func(usersInRoom []*socketio.RemoteSocket, _ error) {
					otherClients := []socketio.SocketId{}
					for _, userInRoom := range usersInRoom {
						if userInRoom.Id() != me {
							otherClients = append(otherClients, userInRoom.Id())
						}
					}
					if len(otherClients) > 0 {
						io.In(currentRoom).Emit("project-user-change", otherClients)
					}
				})
			}
		})
		socket.On("disconnect", func(datas ...any) {
			socket.RemoveAllListeners("")
			socket.Disconnect(true)
		})
	})

	return &Hub{io: io}
}

// firstString extracts the leading string argument of a client event.
// A malformed frame is dropped rather than trusted.
func firstString(datas []any) (string, bool) {
	if len(datas) == 0 {
		return "", false
	}
	s, ok := datas[0].(string)
	return s, ok && s != ""
}

// BroadcastOp pushes a committed op to everyone in the project room.
// Clients apply it if it lines up with their local head and otherwise
// fall back to the catch-up endpoint.
func (h *Hub) BroadcastOp(projectID string, op *core.Op) {
	h.io.To(socketio.Room(projectID)).Emit("op-committed", op)
}

// ServeHandler exposes the underlying engine.io HTTP handler for
// mounting on the router.
func (h *Hub) ServeHandler() http.Handler {
	return h.io.ServeHandler(nil)
}

func (h *Hub) Close() {
	h.io.Close(nil)
}
