package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements SessionStore. Layout:
//
//	user:{userID}:chats    hash  chatID -> ChatMetadata JSON
//	chat:{chatID}:messages list  Message JSON, append order
//	user:{userID}:profile  string
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisStore(addr string) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		now:    time.Now,
	}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func userChatsKey(userID string) string    { return "user:" + userID + ":chats" }
func userProfileKey(userID string) string  { return "user:" + userID + ":profile" }
func chatMessagesKey(chatID string) string { return "chat:" + chatID + ":messages" }

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

func (s *RedisStore) CreateChat(ctx context.Context, userID, title string) (*ChatMetadata, error) {
	meta := &ChatMetadata{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: float64(s.now().UnixMicro()) / 1e6,
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat metadata: %w", err)
	}
	if err := s.client.HSet(ctx, userChatsKey(userID), meta.ID, data).Err(); err != nil {
		return nil, unavailable("create chat", err)
	}
	return meta, nil
}

func (s *RedisStore) ListChats(ctx context.Context, userID string) ([]ChatMetadata, error) {
	raw, err := s.client.HGetAll(ctx, userChatsKey(userID)).Result()
	if err != nil {
		return []ChatMetadata{}, unavailable("list chats", err)
	}

	chats := make([]ChatMetadata, 0, len(raw))
	for _, data := range raw {
		var meta ChatMetadata
		if err := json.Unmarshal([]byte(data), &meta); err != nil {
			log.Printf("skipping unreadable chat metadata for user %s: %v", userID, err)
			continue
		}
		chats = append(chats, meta)
	}

	// Newest first.
	sort.Slice(chats, func(i, j int) bool {
		return chats[i].CreatedAt > chats[j].CreatedAt
	})
	return chats, nil
}

// DeleteChat removes the metadata entry first, then the history list. The
// two steps are sequential, not atomic; a crash in between leaves an
// orphaned history list that is no longer reachable through the API.
func (s *RedisStore) DeleteChat(ctx context.Context, userID, chatID string) error {
	if err := s.client.HDel(ctx, userChatsKey(userID), chatID).Err(); err != nil {
		return unavailable("delete chat metadata", err)
	}
	if err := s.client.Del(ctx, chatMessagesKey(chatID)).Err(); err != nil {
		return unavailable("delete chat history", err)
	}
	return nil
}

func (s *RedisStore) UpdateChatTitle(ctx context.Context, userID, chatID, title string) error {
	raw, err := s.client.HGet(ctx, userChatsKey(userID), chatID).Result()
	if err == redis.Nil {
		return nil // Unknown chat, silently ignored
	}
	if err != nil {
		return unavailable("update chat title", err)
	}

	var meta ChatMetadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return fmt.Errorf("failed to unmarshal chat metadata: %w", err)
	}
	meta.Title = title

	data, err := json.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("failed to marshal chat metadata: %w", err)
	}
	if err := s.client.HSet(ctx, userChatsKey(userID), chatID, data).Err(); err != nil {
		return unavailable("update chat title", err)
	}
	return nil
}

func (s *RedisStore) GetHistory(ctx context.Context, chatID string) ([]Message, error) {
	raw, err := s.client.LRange(ctx, chatMessagesKey(chatID), 0, -1).Result()
	if err != nil {
		return []Message{}, unavailable("get history", err)
	}

	messages := make([]Message, 0, len(raw))
	for _, data := range raw {
		var msg Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			log.Printf("skipping unreadable message in chat %s: %v", chatID, err)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (s *RedisStore) AppendMessage(ctx context.Context, chatID, role, content string) error {
	data, err := json.Marshal(Message{Role: role, Parts: []string{content}})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := s.client.RPush(ctx, chatMessagesKey(chatID), data).Err(); err != nil {
		return unavailable("append message", err)
	}
	return nil
}

func (s *RedisStore) GetProfile(ctx context.Context, userID string) (string, error) {
	profile, err := s.client.Get(ctx, userProfileKey(userID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", unavailable("get profile", err)
	}
	return profile, nil
}

func (s *RedisStore) SetProfile(ctx context.Context, userID, profile string) error {
	if err := s.client.Set(ctx, userProfileKey(userID), profile, 0).Err(); err != nil {
		return unavailable("set profile", err)
	}
	return nil
}
