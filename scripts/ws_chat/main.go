package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wirechat-relay/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	token := flag.String("token", "", "credential (see `wirechat-relay token`)")
	to := flag.String("to", "", "receiver user id for direct messages")
	group := flag.String("group", "", "group conversation id")
	flag.Parse()

	if *to == "" && *group == "" {
		return errors.New("one of -to or -group is required")
	}

	target, err := url.Parse(*addr)
	if err != nil {
		return fmt.Errorf("parse addr: %w", err)
	}
	q := target.Query()
	q.Set("token", *token)
	target.RawQuery = q.Encode()

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, target.String(), nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	fmt.Printf("Connected to %s\n", *addr)
	fmt.Println("Type messages and press Enter to send. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, conn, proto.SendMessageData{ReceiverID: *to, GroupID: *group})

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var frame struct {
			Type  string          `json:"type"`
			Event string          `json:"event"`
			Ref   string          `json:"ref"`
			Data  json.RawMessage `json:"data"`
			Error *proto.Error    `json:"error"`
		}
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		switch frame.Type {
		case proto.OutboundTypeAck:
			fmt.Printf("(sent %s)\n", frame.Ref)
			continue
		case proto.OutboundTypeError:
			if frame.Error != nil {
				fmt.Printf("error [%s] %s: %s\n", frame.Ref, frame.Error.Code, frame.Error.Msg)
			}
			continue
		}

		switch frame.Event {
		case proto.EventReceiveMessage:
			var evt proto.ReceiveMessage
			if err := json.Unmarshal(frame.Data, &evt); err != nil {
				log.Printf("unmarshal message: %v", err)
				continue
			}
			at := time.UnixMilli(evt.Timestamp).Format(time.TimeOnly)
			fmt.Printf("[%s] %s: %s\n", at, evt.SenderName, evt.Content)
		case proto.EventTypingStart:
			var evt proto.TypingStart
			if err := json.Unmarshal(frame.Data, &evt); err == nil {
				fmt.Printf("%s is typing...\n", evt.Username)
			}
		case proto.EventUserOnline, proto.EventUserOffline:
			var evt proto.Presence
			if err := json.Unmarshal(frame.Data, &evt); err == nil {
				fmt.Printf("%s %s\n", evt.UserID, strings.TrimPrefix(frame.Event, "user_"))
			}
		case proto.EventOnlineUsers:
			var evt proto.OnlineUsers
			if err := json.Unmarshal(frame.Data, &evt); err == nil {
				fmt.Printf("online: %s\n", strings.Join(evt.UserIDs, ", "))
			}
		case proto.EventTypingStop:
		default:
			fmt.Printf("event=%s data=%s\n", frame.Event, frame.Data)
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, target proto.SendMessageData) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	seq := 0
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}

			seq++
			msg := target
			msg.Content = text
			if err := send(ctx, conn, proto.InboundTypeSendMessage, strconv.Itoa(seq), msg); err != nil {
				log.Printf("send: %v", err)
				return
			}
		}
	}
}

func send(ctx context.Context, conn *websocket.Conn, typ, ref string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	return wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Ref: ref, Data: payload})
}
