package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"social-inbox/models"
)

// InitMongoDB initializes MongoDB connection
func InitMongoDB(ctx context.Context, uri string) (*mongo.Client, error) {
	clientOptions := options.Client().ApplyURI(uri)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, err
	}

	// Ping to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}

	slog.Info("Connected to MongoDB")
	return client, nil
}

// MongoStore implements Store on MongoDB. Message ids come from a counters
// collection so that they stay monotonic like the SQL sequences.
type MongoStore struct {
	client   *mongo.Client
	database *mongo.Database
}

// NewMongoStore wraps a connected client and creates the indexes
func NewMongoStore(ctx context.Context, client *mongo.Client, databaseName string) (*MongoStore, error) {
	s := &MongoStore{
		client:   client,
		database: client.Database(databaseName),
	}
	if err := s.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("creating indexes: %w", err)
	}
	return s, nil
}

func (s *MongoStore) conversations() *mongo.Collection { return s.database.Collection("conversations") }
func (s *MongoStore) messages() *mongo.Collection      { return s.database.Collection("messages") }
func (s *MongoStore) profiles() *mongo.Collection      { return s.database.Collection("customer_profiles") }
func (s *MongoStore) pages() *mongo.Collection         { return s.database.Collection("pages") }
func (s *MongoStore) counters() *mongo.Collection      { return s.database.Collection("counters") }

// createIndexes creates necessary database indexes
func (s *MongoStore) createIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// Messages collection indexes
	_, err := s.messages().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.M{"platform_message_id": 1}},
		{Keys: bson.M{"page_id": 1}},
	})
	if err != nil {
		return err
	}

	// Conversations collection indexes
	_, err = s.conversations().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.M{"owner_id": 1},
	})
	if err != nil {
		return err
	}

	// Profile cache indexes
	_, err = s.profiles().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "page_id", Value: 1}, {Key: "customer_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

// Close disconnects the client
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// HasReceiptColumns is always true, documents are schemaless
func (s *MongoStore) HasReceiptColumns(ctx context.Context) (bool, error) {
	return true, nil
}

// CreateConversationIfAbsent upserts with $setOnInsert so an existing
// conversation is never modified
func (s *MongoStore) CreateConversationIfAbsent(ctx context.Context, conv *models.Conversation) (bool, error) {
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = conv.CreatedAt
	}
	if conv.Platform == "" {
		conv.Platform = models.PlatformFacebook
	}

	filter := bson.M{"_id": conv.ID}
	update := bson.M{"$setOnInsert": conv}
	opts := options.Update().SetUpsert(true)

	result, err := s.conversations().UpdateOne(ctx, filter, update, opts)
	if mongo.IsDuplicateKeyError(err) {
		// A concurrent upsert won
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return result.UpsertedCount == 1, nil
}

// GetConversation returns ErrNotFound when no document exists
func (s *MongoStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.conversations().FindOne(ctx, bson.M{"_id": id}).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// ClaimIfUnowned matches only documents whose owner is null
func (s *MongoStore) ClaimIfUnowned(ctx context.Context, id, agentID string, at time.Time) (bool, error) {
	filter := bson.M{"_id": id, "owner_id": nil}
	update := bson.M{"$set": bson.M{
		"owner_id":   agentID,
		"locked_at":  at,
		"updated_at": at,
	}}
	result, err := s.conversations().UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return result.MatchedCount == 1, nil
}

// SetOwner sets or clears the owner regardless of the current value
func (s *MongoStore) SetOwner(ctx context.Context, id string, agentID *string, at time.Time) error {
	set := bson.M{"owner_id": agentID, "updated_at": at}
	update := bson.M{"$set": set}
	if agentID != nil {
		set["locked_at"] = at
	} else {
		update["$unset"] = bson.M{"locked_at": ""}
	}
	return s.updateOne(ctx, id, update)
}

// SetStatus records the delivery status
func (s *MongoStore) SetStatus(ctx context.Context, id string, status models.DeliveryStatus, at time.Time) error {
	return s.updateOne(ctx, id, bson.M{"$set": bson.M{"status": status, "updated_at": at}})
}

// SetLastRead moves (or clears) the read watermark of a role
func (s *MongoStore) SetLastRead(ctx context.Context, id string, role models.AgentRole, at *time.Time) error {
	field := readColumn(role)
	if at == nil {
		return s.updateOne(ctx, id, bson.M{"$unset": bson.M{field: ""}})
	}
	return s.updateOne(ctx, id, bson.M{"$set": bson.M{field: *at}})
}

// AdvanceReceipt relies on $max so out of order receipts never move backwards
func (s *MongoStore) AdvanceReceipt(ctx context.Context, id string, kind models.ReceiptKind, at time.Time) error {
	field, err := receiptColumn(kind)
	if err != nil {
		return err
	}
	_, err = s.conversations().UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$max": bson.M{field: at}})
	return err
}

func (s *MongoStore) updateOne(ctx context.Context, id string, update bson.M) error {
	result, err := s.conversations().UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// nextMessageID increments the messages sequence
func (s *MongoStore) nextMessageID(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	err := s.counters().FindOneAndUpdate(ctx,
		bson.M{"_id": "messages"},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		opts,
	).Decode(&counter)
	if err != nil {
		return 0, err
	}
	return counter.Seq, nil
}

// AppendMessage saves a message to database
func (s *MongoStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	id, err := s.nextMessageID(ctx)
	if err != nil {
		return fmt.Errorf("allocating message id: %w", err)
	}
	msg.ID = id
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Type == "" {
		msg.Type = models.MessageText
	}
	_, err = s.messages().InsertOne(ctx, msg)
	return err
}

// GetMessage returns a single ledger entry
func (s *MongoStore) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	return s.findMessage(ctx, bson.M{"_id": id})
}

// FindMessageByPlatformID looks a message up by the platform's mid
func (s *MongoStore) FindMessageByPlatformID(ctx context.Context, platformMessageID string) (*models.Message, error) {
	return s.findMessage(ctx, bson.M{"platform_message_id": platformMessageID})
}

func (s *MongoStore) findMessage(ctx context.Context, filter bson.M) (*models.Message, error) {
	var msg models.Message
	err := s.messages().FindOne(ctx, filter).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListMessages returns the newest limit messages, oldest first
func (s *MongoStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	findOptions := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.messages().Find(ctx, bson.M{"conversation_id": conversationID}, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	messages := []models.Message{}
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// ConversationSummaries runs as one aggregation: newest message per
// conversation, the conversation document joined in, role scoping, ordering,
// limit and the unread count all happen server side
func (s *MongoStore) ConversationSummaries(ctx context.Context, filter SummaryFilter) ([]models.ConversationSummary, error) {
	match := bson.M{}
	if filter.PageID != "" {
		match["page_id"] = filter.PageID
	}

	readField := "$conv.seller_last_read_at"
	if filter.Role == models.RoleAdmin {
		readField = "$conv.admin_last_read_at"
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$sort", Value: bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$conversation_id"},
			{Key: "last", Value: bson.D{{Key: "$first", Value: "$$ROOT"}}},
		}}},
		{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: "conversations"},
			{Key: "localField", Value: "_id"},
			{Key: "foreignField", Value: "_id"},
			{Key: "as", Value: "conv"},
		}}},
		{{Key: "$unwind", Value: bson.D{
			{Key: "path", Value: "$conv"},
			{Key: "preserveNullAndEmptyArrays", Value: true},
		}}},
	}

	if filter.Role != models.RoleAdmin {
		// Sellers see their own and unassigned conversations; a missing
		// conversation document counts as unassigned
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: bson.M{
			"$or": bson.A{
				bson.M{"conv.owner_id": nil},
				bson.M{"conv.owner_id": filter.AgentID},
			},
		}}})
	}

	pipeline = append(pipeline,
		bson.D{{Key: "$sort", Value: bson.D{{Key: "last.created_at", Value: -1}, {Key: "last._id", Value: -1}}}},
	)
	if filter.Limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: int64(filter.Limit)}})
	}

	pipeline = append(pipeline, bson.D{{Key: "$lookup", Value: bson.D{
		{Key: "from", Value: "messages"},
		{Key: "let", Value: bson.D{
			{Key: "cid", Value: "$_id"},
			{Key: "after", Value: bson.D{{Key: "$ifNull", Value: bson.A{readField, time.Unix(0, 0).UTC()}}}},
		}},
		{Key: "pipeline", Value: mongo.Pipeline{
			{{Key: "$match", Value: bson.D{{Key: "$expr", Value: bson.D{{Key: "$and", Value: bson.A{
				bson.D{{Key: "$eq", Value: bson.A{"$conversation_id", "$$cid"}}},
				bson.D{{Key: "$eq", Value: bson.A{"$sender_type", string(models.SenderCustomer)}}},
				bson.D{{Key: "$gt", Value: bson.A{"$created_at", "$$after"}}},
			}}}}}}},
			{{Key: "$count", Value: "n"}},
		}},
		{Key: "as", Value: "unread"},
	}}})

	cursor, err := s.messages().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Last   models.Message       `bson:"last"`
		Conv   *models.Conversation `bson:"conv"`
		Unread []struct {
			N int `bson:"n"`
		} `bson:"unread"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}

	summaries := make([]models.ConversationSummary, 0, len(rows))
	for _, row := range rows {
		summary := models.ConversationSummary{
			ConversationID: row.Last.ConversationID,
			PageID:         row.Last.PageID,
			CustomerID:     row.Last.CustomerID,
			Platform:       row.Last.Platform,
			LastMessage:    row.Last,
		}
		if len(row.Unread) > 0 {
			summary.Unread = row.Unread[0].N
		}
		if row.Conv != nil {
			summary.OwnerID = row.Conv.OwnerID
			summary.Status = row.Conv.Status
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// CountCustomerMessagesAfter counts customer messages strictly newer than after
func (s *MongoStore) CountCustomerMessagesAfter(ctx context.Context, conversationID string, after time.Time) (int, error) {
	filter := bson.M{
		"conversation_id": conversationID,
		"sender_type":     models.SenderCustomer,
	}
	if !after.IsZero() {
		filter["created_at"] = bson.M{"$gt": after}
	}
	count, err := s.messages().CountDocuments(ctx, filter)
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// LatestCustomerMessageAt returns nil when the customer never wrote
func (s *MongoStore) LatestCustomerMessageAt(ctx context.Context, conversationID string) (*time.Time, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	var msg models.Message
	err := s.messages().FindOne(ctx, bson.M{
		"conversation_id": conversationID,
		"sender_type":     models.SenderCustomer,
	}, opts).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg.CreatedAt, nil
}

// BackfillCustomerIdentity repairs the customer identity on existing messages
func (s *MongoStore) BackfillCustomerIdentity(ctx context.Context, conversationID, name, pic string) (int64, error) {
	set := bson.M{"customer_name": name}
	if pic != "" {
		set["customer_pic"] = pic
	}
	result, err := s.messages().UpdateMany(ctx, bson.M{"conversation_id": conversationID}, bson.M{"$set": set})
	if err != nil {
		return 0, err
	}
	return result.ModifiedCount, nil
}

// GetProfile returns ErrNotFound for unknown customers
func (s *MongoStore) GetProfile(ctx context.Context, pageID, customerID string) (*models.CustomerProfile, error) {
	var profile models.CustomerProfile
	err := s.profiles().FindOne(ctx, bson.M{"page_id": pageID, "customer_id": customerID}).Decode(&profile)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// SaveProfile upserts a customer profile
func (s *MongoStore) SaveProfile(ctx context.Context, profile *models.CustomerProfile) error {
	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = time.Now().UTC()
	}
	filter := bson.M{"page_id": profile.PageID, "customer_id": profile.CustomerID}
	opts := options.Update().SetUpsert(true)
	_, err := s.profiles().UpdateOne(ctx, filter, bson.M{"$set": profile}, opts)
	return err
}

// ListPages returns every known page credential
func (s *MongoStore) ListPages(ctx context.Context) ([]models.Page, error) {
	cursor, err := s.pages().Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	pages := []models.Page{}
	if err := cursor.All(ctx, &pages); err != nil {
		return nil, err
	}
	return pages, nil
}

// UpsertPage inserts or replaces a page credential
func (s *MongoStore) UpsertPage(ctx context.Context, page *models.Page) error {
	if page.UpdatedAt.IsZero() {
		page.UpdatedAt = time.Now().UTC()
	}
	if page.Platform == "" {
		page.Platform = models.PlatformFacebook
	}
	opts := options.Replace().SetUpsert(true)
	_, err := s.pages().ReplaceOne(ctx, bson.M{"_id": page.PageID}, page, opts)
	return err
}
