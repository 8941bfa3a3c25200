package core

import (
	"context"
	"log"
	"strings"
	"sync"

	"lumina.app/backend/internal/store"
)

// ChatService orchestrates one conversation turn: load context, call the
// model, persist the exchange, and title the chat on its first turn.
// Session-store failures degrade per the store contract and are only
// logged here; the caller always gets a conversational reply.
type ChatService struct {
	sessions store.SessionStore
	llm      Completer

	// One mutex per chat id serializes concurrent turns on the same chat,
	// so the "empty history means first turn" check cannot race with
	// itself within this process.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewChatService(sessions store.SessionStore, llm Completer) *ChatService {
	return &ChatService{
		sessions: sessions,
		llm:      llm,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *ChatService) chatLock(chatID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[chatID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[chatID] = lock
	}
	return lock
}

// TurnReply is the HTTP-facing result of one turn. Title is non-nil only
// on the very first turn of a chat.
type TurnReply struct {
	Response string  `json:"response"`
	ChatID   string  `json:"chat_id"`
	Title    *string `json:"title"`
}

func (s *ChatService) PostMessage(ctx context.Context, userID, chatID, userMessage string) TurnReply {
	lock := s.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	profile, err := s.sessions.GetProfile(ctx, userID)
	if err != nil {
		log.Printf("could not load profile for user %s: %v", userID, err)
	}
	history, err := s.sessions.GetHistory(ctx, chatID)
	if err != nil {
		log.Printf("could not load history for chat %s: %v", chatID, err)
	}
	firstTurn := len(history) == 0

	result := s.llm.Complete(ctx, history, userMessage, profile)

	// User first, model second; GetHistory reads depend on this order.
	if err := s.sessions.AppendMessage(ctx, chatID, store.RoleUser, userMessage); err != nil {
		log.Printf("could not persist user message in chat %s: %v", chatID, err)
	}
	if err := s.sessions.AppendMessage(ctx, chatID, store.RoleModel, result.Response); err != nil {
		log.Printf("could not persist model message in chat %s: %v", chatID, err)
	}

	if result.NewUserFacts != nil && *result.NewUserFacts != "" {
		log.Printf("learning new facts about user %s: %s", userID, *result.NewUserFacts)
		merged := *result.NewUserFacts
		if profile != "" {
			merged = profile + "\n" + *result.NewUserFacts
		}
		if err := s.sessions.SetProfile(ctx, userID, merged); err != nil {
			log.Printf("could not update profile for user %s: %v", userID, err)
		}
	}

	var title *string
	if firstTurn {
		t := FallbackTitle(userMessage)
		if result.Title != nil && *result.Title != "" {
			t = *result.Title
		}
		if err := s.sessions.UpdateChatTitle(ctx, userID, chatID, t); err != nil {
			log.Printf("could not save title for chat %s: %v", chatID, err)
		}
		title = &t
	}

	return TurnReply{Response: result.Response, ChatID: chatID, Title: title}
}

func (s *ChatService) CreateChat(ctx context.Context, userID, title string) (*store.ChatMetadata, error) {
	return s.sessions.CreateChat(ctx, userID, title)
}

func (s *ChatService) ListChats(ctx context.Context, userID string) []store.ChatMetadata {
	chats, err := s.sessions.ListChats(ctx, userID)
	if err != nil {
		log.Printf("could not list chats for user %s: %v", userID, err)
	}
	return chats
}

func (s *ChatService) DeleteChat(ctx context.Context, userID, chatID string) {
	if err := s.sessions.DeleteChat(ctx, userID, chatID); err != nil {
		log.Printf("could not delete chat %s for user %s: %v", chatID, userID, err)
	}
}

func (s *ChatService) History(ctx context.Context, chatID string) []store.Message {
	history, err := s.sessions.GetHistory(ctx, chatID)
	if err != nil {
		log.Printf("could not load history for chat %s: %v", chatID, err)
	}
	return history
}

// Profile returns the raw profile text plus the newline-split fact list
// used for display.
func (s *ChatService) Profile(ctx context.Context, userID string) (string, []string) {
	profile, err := s.sessions.GetProfile(ctx, userID)
	if err != nil {
		log.Printf("could not load profile for user %s: %v", userID, err)
	}

	facts := []string{}
	for _, line := range strings.Split(profile, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			facts = append(facts, trimmed)
		}
	}
	return profile, facts
}
