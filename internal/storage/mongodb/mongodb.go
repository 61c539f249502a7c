package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"authd/internal/domain/models"
	"authd/internal/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type Storage struct {
	client   *mongo.Client
	users    *mongo.Collection
	counters *mongo.Collection
}

type userDoc struct {
	ID           int64     `bson:"_id"`
	Username     string    `bson:"username"`
	Email        string    `bson:"email"`
	FullName     string    `bson:"full_name"`
	Avatar       string    `bson:"avatar"`
	CoverImage   string    `bson:"cover_image"`
	PassHash     []byte    `bson:"pass_hash"`
	RefreshToken string    `bson:"refresh_token,omitempty"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

type counterDoc struct {
	ID    string `bson:"_id"`
	Value int64  `bson:"value"`
}

// New connects to MongoDB and makes sure the unique indexes exist.
func New(ctx context.Context, uri, database string) (*Storage, error) {
	const op = "storage.mongodb.New"

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	db := client.Database(database)
	s := &Storage{
		client:   client,
		users:    db.Collection("users"),
		counters: db.Collection("counters"),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("%s: indexes: %w", op, err)
	}

	return s, nil
}

func (s *Storage) ensureIndexes(ctx context.Context) error {
	for _, field := range []string{"username", "email"} {
		_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: field, Value: 1}},
			Options: options.Index().SetUnique(true),
		})
		if err != nil {
			return fmt.Errorf("users.%s index: %w", field, err)
		}
	}

	return nil
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects from MongoDB.
func (s *Storage) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// nextID atomically increments and returns the next ID for a given collection.
func (s *Storage) nextID(ctx context.Context, collectionName string) (int64, error) {
	filter := bson.D{{Key: "_id", Value: collectionName}}
	update := bson.D{{Key: "$inc", Value: bson.D{{Key: "value", Value: int64(1)}}}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var counter counterDoc
	if err := s.counters.FindOneAndUpdate(ctx, filter, update, opts).Decode(&counter); err != nil {
		return 0, err
	}

	return counter.Value, nil
}

func (s *Storage) SaveUser(ctx context.Context, user models.User) (int64, error) {
	const op = "storage.mongodb.SaveUser"

	id, err := s.nextID(ctx, "users")
	if err != nil {
		return 0, fmt.Errorf("%s: nextID: %w", op, err)
	}

	now := time.Now().UTC()
	doc := userDoc{
		ID:         id,
		Username:   user.Username,
		Email:      user.Email,
		FullName:   user.FullName,
		Avatar:     user.Avatar,
		CoverImage: user.CoverImage,
		PassHash:   user.PassHash,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		if isDuplicateKeyError(err) {
			return 0, fmt.Errorf("%s: %w", op, storage.ErrUserExists)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

// UserByLogin finds a user by username or email. Empty values never match.
func (s *Storage) UserByLogin(ctx context.Context, username, email string) (*models.User, error) {
	const op = "storage.mongodb.UserByLogin"

	var or bson.A
	if username != "" {
		or = append(or, bson.D{{Key: "username", Value: username}})
	}
	if email != "" {
		or = append(or, bson.D{{Key: "email", Value: email}})
	}
	if len(or) == 0 {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	opts := options.FindOne().SetSort(bson.D{{Key: "_id", Value: 1}})
	user, err := s.findOne(ctx, bson.D{{Key: "$or", Value: or}}, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (s *Storage) UserByID(ctx context.Context, userID int64) (*models.User, error) {
	const op = "storage.mongodb.UserByID"

	user, err := s.findOne(ctx, bson.D{{Key: "_id", Value: userID}})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (s *Storage) SetRefreshToken(ctx context.Context, userID int64, token string) error {
	const op = "storage.mongodb.SetRefreshToken"

	res, err := s.users.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: userID}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "refresh_token", Value: token},
			{Key: "updated_at", Value: time.Now().UTC()},
		}}},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	return nil
}

// SwapRefreshToken replaces the stored token only while it still equals oldToken.
func (s *Storage) SwapRefreshToken(ctx context.Context, userID int64, oldToken, newToken string) error {
	const op = "storage.mongodb.SwapRefreshToken"

	if oldToken == "" {
		return fmt.Errorf("%s: %w", op, storage.ErrRefreshTokenMismatch)
	}

	res, err := s.users.UpdateOne(ctx,
		bson.D{
			{Key: "_id", Value: userID},
			{Key: "refresh_token", Value: oldToken},
		},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "refresh_token", Value: newToken},
			{Key: "updated_at", Value: time.Now().UTC()},
		}}},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrRefreshTokenMismatch)
	}

	return nil
}

func (s *Storage) ClearRefreshToken(ctx context.Context, userID int64) error {
	const op = "storage.mongodb.ClearRefreshToken"

	_, err := s.users.UpdateOne(ctx,
		bson.D{
			{Key: "_id", Value: userID},
			{Key: "refresh_token", Value: bson.D{{Key: "$exists", Value: true}}},
		},
		bson.D{
			{Key: "$unset", Value: bson.D{{Key: "refresh_token", Value: ""}}},
			{Key: "$set", Value: bson.D{{Key: "updated_at", Value: time.Now().UTC()}}},
		},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) UpdatePassHash(ctx context.Context, userID int64, passHash []byte) error {
	const op = "storage.mongodb.UpdatePassHash"

	res, err := s.users.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: userID}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "pass_hash", Value: passHash},
			{Key: "updated_at", Value: time.Now().UTC()},
		}}},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	return nil
}

func (s *Storage) findOne(ctx context.Context, filter bson.D, opts ...options.Lister[options.FindOneOptions]) (*models.User, error) {
	var doc userDoc
	if err := s.users.FindOne(ctx, filter, opts...).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, storage.ErrUserNotFound
		}
		return nil, err
	}

	return &models.User{
		ID:           doc.ID,
		Username:     doc.Username,
		Email:        doc.Email,
		FullName:     doc.FullName,
		Avatar:       doc.Avatar,
		CoverImage:   doc.CoverImage,
		PassHash:     doc.PassHash,
		RefreshToken: doc.RefreshToken,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}, nil
}

// isDuplicateKeyError checks if the error is a MongoDB duplicate key error (code 11000).
func isDuplicateKeyError(err error) bool {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	return false
}
