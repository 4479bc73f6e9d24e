package docstore

import (
	"context"

	"github.com/openmusicplayer/authgate/internal/models"
	"github.com/openmusicplayer/authgate/internal/store"
)

var (
	_ store.Users       = (*Store)(nil)
	_ store.ResetTokens = (*Store)(nil)
)

func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	return s.mutate(ctx, CollectionUsers, func(recs []Record) ([]Record, error) {
		for _, rec := range recs {
			if StringValue(rec["email"]) == user.Email {
				return nil, store.ErrEmailExists
			}
		}
		return append(recs, userRecord(user)), nil
	})
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	rec, ok := s.Find(CollectionUsers, FieldEquals("email", email))
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return userFromRecord(rec), nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	rec, ok := s.Find(CollectionUsers, FieldEquals("id", id))
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return userFromRecord(rec), nil
}

func (s *Store) UpdatePassword(ctx context.Context, id, password string) error {
	found, err := s.Assign(ctx, CollectionUsers, FieldEquals("id", id), Record{"password": password})
	if err != nil {
		return err
	}
	if !found {
		return store.ErrUserNotFound
	}
	return nil
}

func (s *Store) CreateResetToken(ctx context.Context, t *models.PasswordResetToken) error {
	return s.Push(ctx, CollectionResetTokens, Record{
		"user_id": t.UserID,
		"token":   t.Token,
	})
}

func (s *Store) GetResetToken(ctx context.Context, token string) (*models.PasswordResetToken, error) {
	rec, ok := s.Find(CollectionResetTokens, FieldEquals("token", token))
	if !ok {
		return nil, store.ErrResetTokenNotFound
	}
	return &models.PasswordResetToken{
		UserID: StringValue(rec["user_id"]),
		Token:  StringValue(rec["token"]),
	}, nil
}

func (s *Store) DeleteResetToken(ctx context.Context, token string) error {
	n, err := s.Remove(ctx, CollectionResetTokens, FieldEquals("token", token))
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrResetTokenNotFound
	}
	return nil
}

func (s *Store) DeleteResetTokensForUser(ctx context.Context, userID string) (int64, error) {
	n, err := s.Remove(ctx, CollectionResetTokens, FieldEquals("user_id", userID))
	return int64(n), err
}

func userRecord(u *models.User) Record {
	return Record{
		"id":       u.ID,
		"email":    u.Email,
		"username": u.Username,
		"password": u.Password,
		"type":     u.Type,
	}
}

func userFromRecord(rec Record) *models.User {
	return &models.User{
		ID:       StringValue(rec["id"]),
		Email:    StringValue(rec["email"]),
		Username: StringValue(rec["username"]),
		Password: StringValue(rec["password"]),
		Type:     StringValue(rec["type"]),
	}
}
