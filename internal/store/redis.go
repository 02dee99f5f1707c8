package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/dmd/devicetracker/types"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps users and assignments in two hashes of JSON records.
// Each save replaces a hash inside one MULTI/EXEC transaction.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// userRecord carries the password hash, which types.User never serializes.
type userRecord struct {
	ID           string     `json:"id"`
	PasswordHash string     `json:"password_hash"`
	Role         types.Role `json:"role"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
}

func (s *RedisStore) usersKey() string       { return s.prefix + "users" }
func (s *RedisStore) assignmentsKey() string { return s.prefix + "assignments" }

func (s *RedisStore) LoadUsers(ctx context.Context) ([]types.User, error) {
	values, err := s.client.HGetAll(ctx, s.usersKey()).Result()
	if err != nil {
		return nil, err
	}
	users := make([]types.User, 0, len(values))
	for field, raw := range values {
		var rec userRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("%w: user %s: %v", ErrMalformedRecord, field, err)
		}
		users = append(users, types.User{
			ID:           rec.ID,
			PasswordHash: rec.PasswordHash,
			Role:         rec.Role,
			FirstName:    rec.FirstName,
			LastName:     rec.LastName,
		})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (s *RedisStore) SaveUsers(ctx context.Context, users []types.User) error {
	fields := make(map[string]any, len(users))
	for _, u := range users {
		data, err := json.Marshal(userRecord{
			ID:           u.ID,
			PasswordHash: u.PasswordHash,
			Role:         u.Role,
			FirstName:    u.FirstName,
			LastName:     u.LastName,
		})
		if err != nil {
			return err
		}
		fields[u.ID] = data
	}
	return s.replaceHash(ctx, s.usersKey(), fields)
}

func (s *RedisStore) LoadAssignments(ctx context.Context) ([]types.Assignment, error) {
	values, err := s.client.HGetAll(ctx, s.assignmentsKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]types.Assignment, 0, len(values))
	for field, raw := range values {
		var a types.Assignment
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, fmt.Errorf("%w: assignment %s: %v", ErrMalformedRecord, field, err)
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *RedisStore) SaveAssignments(ctx context.Context, assignments []types.Assignment) error {
	fields := make(map[string]any, len(assignments))
	for _, a := range assignments {
		data, err := json.Marshal(a)
		if err != nil {
			return err
		}
		fields[strconv.FormatInt(a.ID, 10)] = data
	}
	return s.replaceHash(ctx, s.assignmentsKey(), fields)
}

func (s *RedisStore) replaceHash(ctx context.Context, key string, fields map[string]any) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(fields) > 0 {
			pipe.HSet(ctx, key, fields)
		}
		pipe.Set(ctx, key+":updated_at", time.Now().UTC().Format(time.RFC3339Nano), 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace %s: %w", key, err)
	}
	return nil
}
