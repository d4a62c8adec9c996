package scenario

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/foreigner-chat/chatload/internal/httpx"
	"github.com/foreigner-chat/chatload/internal/metrics"
	"github.com/foreigner-chat/chatload/internal/scheduler"
	"github.com/foreigner-chat/chatload/internal/session"
)

// Scenario-level metrics, named as in the load scripts so their thresholds
// carry over unchanged.
const (
	MessagesSent       = "ws_messages_sent"
	MessagesReceived   = "ws_messages_received"
	ReadEventsSent     = "ws_read_events_sent"
	TypingEventsSent   = "ws_typing_events_sent"
	CreateRoomDuration = "create_room_duration"
	GetRoomsDuration   = "get_rooms_duration"
	GetMessagesDur     = "get_messages_duration"
	MarkReadDuration   = "mark_messages_as_read_duration"
	SearchDuration     = "search_messages_duration"
	LeaveRoomDuration  = "leave_room_duration"
)

// SharedRoomID is the room every VU joins in chat-concurrency when no room
// fixture is loaded.
const SharedRoomID ID = "c5e3f6a2-a8b9-4d1e-8c3b-4f5d6e7a8b9c"

// searchKeyword is the fixed search term of the REST flow.
const searchKeyword = "테스트"

type chatMessage struct {
	RoomID   ID     `json:"roomId"`
	SenderID ID     `json:"senderId"`
	Content  string `json:"content"`
}

type readConfirm struct {
	Type      string `json:"type"`
	RoomID    ID     `json:"roomId"`
	UserID    ID     `json:"userId"`
	MessageID string `json:"messageId"`
}

type typingEvent struct {
	SenderID   ID     `json:"senderId"`
	SenderName string `json:"senderName"`
	RoomID     ID     `json:"roomId"`
	IsTyping   bool   `json:"isTyping"`
}

type readEvent struct {
	RoomID   ID `json:"roomId"`
	ReaderID ID `json:"readerId"`
}

type member struct {
	ID ID `json:"id"`
}

func roomPath(room ID, suffix string) string {
	return apiPrefix + "/rooms/" + room.String() + suffix
}

// newSendMessage fetches a room's history and then holds a socket to that
// room, sending a message every Timing.Message.
func newSendMessage(env *Env) scheduler.Scenario {
	reg := env.Registry
	sent := metrics.Must(reg.Counter(MessagesSent, metrics.Default))
	received := metrics.Must(reg.Counter(MessagesReceived, metrics.Default))

	return func(ctx context.Context, vuID int) error {
		combo := env.Data.Combination()

		res, err := env.HTTP.Get(ctx, roomPath(combo.RoomID, "/messages"),
			httpx.WithQuery("limit", "50"),
			httpx.WithQuery("userId", combo.UserID.String()),
		)
		if env.checkStatus("history status 200", res, err) {
			Check(reg, "history is a message list", messagesOf(res) != nil)
		}

		opened := env.hold(ctx, vuID, env.wsURL("userId", combo.UserID.String(), "roomId", combo.RoomID.String()), session.Handlers{
			OnOpen: func(s *session.Session) {
				env.every(s, env.Timing.Message, func(s *session.Session) {
					msg := chatMessage{
						RoomID:   combo.RoomID,
						SenderID: combo.UserID,
						Content:  fmt.Sprintf("User-%s test message", combo.UserID),
					}
					if sendJSON(s, msg) == nil {
						_ = sent.Inc()
					}
				})
			},
			OnMessage: func(*session.Session, []byte) {
				_ = received.Inc()
			},
		})
		Check(reg, "ws status 101", opened)

		return Sleep(ctx, env.Timing.Pause)
	}
}

// newConcurrency puts every VU in one room, sending a uniquely tagged
// message every Timing.Message and a read confirmation every Timing.Read.
func newConcurrency(env *Env) scheduler.Scenario {
	reg := env.Registry
	sent := metrics.Must(reg.Counter(MessagesSent, metrics.Default))
	reads := metrics.Must(reg.Counter(ReadEventsSent, metrics.Default))

	room := SharedRoomID
	if len(env.Data.RoomIDs) > 0 {
		room = env.Data.RoomIDs[0]
	}

	return func(ctx context.Context, vuID int) error {
		user := intID(vuID)

		opened := env.hold(ctx, vuID, env.wsURL(), session.Handlers{
			OnOpen: func(s *session.Session) {
				env.every(s, env.Timing.Message, func(s *session.Session) {
					msg := chatMessage{
						RoomID:   room,
						SenderID: user,
						Content:  fmt.Sprintf("VU-%d test message - %s", vuID, uuid.NewString()),
					}
					if sendJSON(s, msg) == nil {
						_ = sent.Inc()
					}
				})
				env.every(s, env.Timing.Read, func(s *session.Session) {
					ev := readConfirm{Type: "READ_CONFIRM", RoomID: room, UserID: user, MessageID: "latest"}
					if sendJSON(s, ev) == nil {
						_ = reads.Inc()
					}
				})
			},
		})
		Check(reg, "ws status 101", opened)

		return Sleep(ctx, env.Timing.Pause)
	}
}

// newAll creates a 1:1 room, reads its history and then chats in it with
// typing and read events, re-fetching the history every Timing.Refetch.
func newAll(env *Env) scheduler.Scenario {
	reg := env.Registry
	sent := metrics.Must(reg.Counter(MessagesSent, metrics.Default))
	typing := metrics.Must(reg.Counter(TypingEventsSent, metrics.Default))
	reads := metrics.Must(reg.Counter(ReadEventsSent, metrics.Default))

	return func(ctx context.Context, vuID int) error {
		user := intID(vuID)

		res, err := env.HTTP.Post(ctx, apiPrefix+"/rooms",
			httpx.WithQuery("isGroup", "false"),
			httpx.WithBody([]member{{ID: user}, {ID: randomID()}}),
			httpx.WithTrend(CreateRoomDuration),
		)
		created := err == nil && res.StatusCode == 200 && res.JSON("data.id").Exists()
		if !Check(reg, "room created and ID exists", created) {
			if err != nil {
				return fmt.Errorf("create room: %w", err)
			}
			return fmt.Errorf("create room: status %d", res.StatusCode)
		}
		room := ID(res.JSON("data.id").String())

		history := func(ctx context.Context, check string) {
			res, err := env.HTTP.Get(ctx, roomPath(room, "/messages"),
				httpx.WithQuery("count", "500"),
				httpx.WithTrend(GetMessagesDur),
			)
			env.checkStatus(check, res, err)
		}
		history(ctx, "messages retrieved")

		opened := env.hold(ctx, vuID, env.wsURL(), session.Handlers{
			OnOpen: func(s *session.Session) {
				env.every(s, env.Timing.Message, func(s *session.Session) {
					ev := typingEvent{SenderID: user, SenderName: "User-" + user.String(), RoomID: room, IsTyping: true}
					if sendJSON(s, ev) == nil {
						_ = typing.Inc()
					}
					msg := chatMessage{RoomID: room, SenderID: user, Content: fmt.Sprintf("VU-%d test message", vuID)}
					if sendJSON(s, msg) == nil {
						_ = sent.Inc()
					}
				})
				env.every(s, env.Timing.Read, func(s *session.Session) {
					if sendJSON(s, readEvent{RoomID: room, ReaderID: user}) == nil {
						_ = reads.Inc()
					}
				})
				env.every(s, env.Timing.Refetch, func(*session.Session) {
					history(ctx, "re-retrieved messages")
				})
			},
		})
		Check(reg, "ws status 101", opened)

		return Sleep(ctx, env.Timing.Pause)
	}
}

// newREST walks the room REST API: list rooms, page through history, mark
// the latest message read, search, then leave the room.
func newREST(env *Env) scheduler.Scenario {
	const pages = 5

	return func(ctx context.Context, vuID int) error {
		user := env.Data.UserID()
		room := env.Data.RoomID()
		asUser := httpx.WithQuery("userId", user.String())
		step := env.Timing.Pause / 2

		res, err := env.HTTP.Get(ctx, apiPrefix+"/rooms", asUser, httpx.WithTrend(GetRoomsDuration))
		env.checkStatus("get rooms status is 200", res, err)
		if err := Sleep(ctx, env.Timing.Pause); err != nil {
			return err
		}

		var lastID string
		for page := 0; page < pages; page++ {
			opts := []httpx.RequestOption{asUser, httpx.WithQuery("limit", "50"), httpx.WithTrend(GetMessagesDur)}
			if lastID != "" {
				opts = append(opts, httpx.WithQuery("lastMessageId", lastID))
			}
			res, err := env.HTTP.Get(ctx, roomPath(room, "/messages"), opts...)
			if !env.checkStatus("get messages status is 200", res, err) {
				break
			}
			msgs := messagesOf(res)
			if len(msgs) == 0 {
				break
			}
			lastID = msgs[len(msgs)-1].Get("id").String()
			if lastID == "" {
				break
			}
			if err := Sleep(ctx, step); err != nil {
				return err
			}
		}

		res, err = env.HTTP.Get(ctx, roomPath(room, "/messages"), asUser, httpx.WithQuery("limit", "1"))
		if err == nil && res.OK() {
			if msgs := messagesOf(res); len(msgs) > 0 && msgs[0].Get("id").Exists() {
				res, err := env.HTTP.Post(ctx, roomPath(room, "/read"), asUser,
					httpx.WithBody([]byte(msgs[0].Get("id").Raw)),
					httpx.WithHeader("Content-Type", "application/json"),
					httpx.WithTrend(MarkReadDuration),
				)
				env.checkStatus("mark read status is 200", res, err)
			}
		}
		if err := Sleep(ctx, step); err != nil {
			return err
		}

		res, err = env.HTTP.Get(ctx, roomPath(room, "/messages"), asUser,
			httpx.WithQuery("search", searchKeyword),
			httpx.WithTrend(SearchDuration),
		)
		env.checkStatus("search messages status is 200", res, err)
		if err := Sleep(ctx, step); err != nil {
			return err
		}

		res, err = env.HTTP.Delete(ctx, roomPath(room, "/leave"), asUser, httpx.WithTrend(LeaveRoomDuration))
		env.checkStatus("leave room status is 200", res, err)
		return nil
	}
}
