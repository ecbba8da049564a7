// Package mongostore implements repository.Store on MongoDB. Multi-document
// transactions need a replica set deployment.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tai-ledger-api/internal/models"
	"tai-ledger-api/internal/repository"
)

const (
	accountsCollection     = "accounts"
	transactionsCollection = "transactions"
	withdrawalsCollection  = "withdrawals"
	stakingsCollection     = "stakings"
	countersCollection     = "counters"
)

type Store struct {
	client  *mongo.Client
	db      *mongo.Database
	session mongo.Session
}

func NewStore(client *mongo.Client, database string) *Store {
	return &Store{
		client: client,
		db:     client.Database(database),
	}
}

// EnsureIndexes creates the unique and lookup indexes of every collection.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		accountsCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "tai_id", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "referral_code", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "referred_by", Value: 1}}},
		},
		transactionsCollection: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "counterparty_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		withdrawalsCollection: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
		},
		stakingsCollection: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "end_at", Value: 1}}},
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
		},
	}

	for name, idx := range indexes {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) Accounts() repository.AccountRepository         { return &accountRepository{s} }
func (s *Store) Transactions() repository.TransactionRepository { return &transactionRepository{s} }
func (s *Store) Withdrawals() repository.WithdrawalRepository   { return &withdrawalRepository{s} }
func (s *Store) Stakings() repository.StakingRepository         { return &stakingRepository{s} }

func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.session != nil {
		return fn(s)
	}

	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(&Store{client: s.client, db: s.db, session: session})
	})
	return err
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// ctx binds the caller's context to the transaction session, if any.
func (s *Store) ctx(ctx context.Context) context.Context {
	if s.session == nil {
		return ctx
	}
	return mongo.NewSessionContext(ctx, s.session)
}

func (s *Store) collection(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// nextID allocates a monotonically increasing numeric id per collection.
func (s *Store) nextID(ctx context.Context, name string) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.collection(countersCollection).FindOneAndUpdate(
		s.ctx(ctx),
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate %s id: %w", name, err)
	}
	return counter.Seq, nil
}

func translate(err error, action string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return repository.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return repository.ErrDuplicateKey
	default:
		return fmt.Errorf("failed to %s: %w", action, err)
	}
}

func toDecimal128(d decimal.Decimal) primitive.Decimal128 {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.NewDecimal128(0, 0)
	}
	return v
}

func fromDecimal128(v primitive.Decimal128) decimal.Decimal {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

func findAll[T any](ctx context.Context, coll *mongo.Collection, filter interface{}, opts *options.FindOptions, action string) ([]T, error) {
	cursor, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, translate(err, action)
	}
	defer cursor.Close(ctx)

	var docs []T
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, translate(err, action)
	}
	return docs, nil
}

func sumDecimal(ctx context.Context, coll *mongo.Collection, match bson.M, field string) (decimal.Decimal, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{"_id": nil, "total": bson.M{"$sum": "$" + field}}}},
	}
	cursor, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return decimal.Zero, translate(err, "aggregate "+field)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Total primitive.Decimal128 `bson:"total"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return decimal.Zero, translate(err, "aggregate "+field)
	}
	if len(rows) == 0 {
		return decimal.Zero, nil
	}
	return fromDecimal128(rows[0].Total), nil
}

type accountDocument struct {
	ID              int64                `bson:"_id"`
	Name            string               `bson:"name"`
	Email           string               `bson:"email"`
	PasswordHash    string               `bson:"password_hash"`
	Role            string               `bson:"role"`
	TaiID           string               `bson:"tai_id"`
	ReferralCode    string               `bson:"referral_code"`
	ReferredBy      *int64               `bson:"referred_by,omitempty"`
	TaiBalance      primitive.Decimal128 `bson:"tai_balance"`
	UsdtBalance     primitive.Decimal128 `bson:"usdt_balance"`
	MiningActive    bool                 `bson:"mining_active"`
	MiningStartedAt *time.Time           `bson:"mining_started_at,omitempty"`
	EmailVerified   bool                 `bson:"email_verified"`
	Version         int64                `bson:"version"`
	CreatedAt       time.Time            `bson:"created_at"`
	UpdatedAt       time.Time            `bson:"updated_at"`
}

func newAccountDocument(a *models.Account) *accountDocument {
	return &accountDocument{
		ID:              a.ID,
		Name:            a.Name,
		Email:           a.Email,
		PasswordHash:    a.PasswordHash,
		Role:            string(a.Role),
		TaiID:           a.TaiID,
		ReferralCode:    a.ReferralCode,
		ReferredBy:      a.ReferredBy,
		TaiBalance:      toDecimal128(a.TaiBalance),
		UsdtBalance:     toDecimal128(a.UsdtBalance),
		MiningActive:    a.MiningActive,
		MiningStartedAt: a.MiningStartedAt,
		EmailVerified:   a.EmailVerified,
		Version:         a.Version,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

func (d *accountDocument) model() *models.Account {
	return &models.Account{
		ID:              d.ID,
		Name:            d.Name,
		Email:           d.Email,
		PasswordHash:    d.PasswordHash,
		Role:            models.Role(d.Role),
		TaiID:           d.TaiID,
		ReferralCode:    d.ReferralCode,
		ReferredBy:      d.ReferredBy,
		TaiBalance:      fromDecimal128(d.TaiBalance),
		UsdtBalance:     fromDecimal128(d.UsdtBalance),
		MiningActive:    d.MiningActive,
		MiningStartedAt: d.MiningStartedAt,
		EmailVerified:   d.EmailVerified,
		Version:         d.Version,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

type accountRepository struct{ s *Store }

func (r *accountRepository) coll() *mongo.Collection {
	return r.s.collection(accountsCollection)
}

func (r *accountRepository) Create(ctx context.Context, account *models.Account) error {
	id, err := r.s.nextID(ctx, accountsCollection)
	if err != nil {
		return err
	}

	now := time.Now()
	account.ID = id
	account.CreatedAt = now
	account.UpdatedAt = now

	if _, err := r.coll().InsertOne(r.s.ctx(ctx), newAccountDocument(account)); err != nil {
		account.ID = 0
		return translate(err, "create account")
	}
	return nil
}

func (r *accountRepository) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *accountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *accountRepository) GetByTaiID(ctx context.Context, taiID string) (*models.Account, error) {
	return r.findOne(ctx, bson.M{"tai_id": taiID})
}

func (r *accountRepository) GetByReferralCode(ctx context.Context, code string) (*models.Account, error) {
	return r.findOne(ctx, bson.M{"referral_code": code})
}

func (r *accountRepository) findOne(ctx context.Context, filter bson.M) (*models.Account, error) {
	var doc accountDocument
	if err := r.coll().FindOne(r.s.ctx(ctx), filter).Decode(&doc); err != nil {
		return nil, translate(err, "get account")
	}
	return doc.model(), nil
}

func (r *accountRepository) UpdateBalances(ctx context.Context, account *models.Account) error {
	res, err := r.coll().UpdateOne(r.s.ctx(ctx),
		bson.M{"_id": account.ID, "version": account.Version},
		bson.M{
			"$set": bson.M{
				"tai_balance":  toDecimal128(account.TaiBalance),
				"usdt_balance": toDecimal128(account.UsdtBalance),
				"updated_at":   account.UpdatedAt,
			},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		return translate(err, "update balances")
	}
	if res.MatchedCount == 0 {
		count, err := r.coll().CountDocuments(r.s.ctx(ctx), bson.M{"_id": account.ID})
		if err != nil {
			return translate(err, "update balances")
		}
		if count == 0 {
			return repository.ErrNotFound
		}
		return repository.ErrVersionConflict
	}

	account.Version++
	return nil
}

func (r *accountRepository) UpdateMining(ctx context.Context, id int64, active bool, startedAt *time.Time, updatedAt time.Time) error {
	update := bson.M{
		"$set": bson.M{"mining_active": active, "updated_at": updatedAt},
	}
	if startedAt != nil {
		update["$set"].(bson.M)["mining_started_at"] = *startedAt
	} else {
		update["$unset"] = bson.M{"mining_started_at": ""}
	}

	res, err := r.coll().UpdateOne(r.s.ctx(ctx), bson.M{"_id": id}, update)
	if err != nil {
		return translate(err, "update mining state")
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *accountRepository) MarkEmailVerified(ctx context.Context, id int64, updatedAt time.Time) error {
	res, err := r.coll().UpdateOne(r.s.ctx(ctx), bson.M{"_id": id},
		bson.M{"$set": bson.M{"email_verified": true, "updated_at": updatedAt}})
	if err != nil {
		return translate(err, "mark email verified")
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *accountRepository) List(ctx context.Context, offset, limit int) ([]*models.Account, int64, error) {
	ctx = r.s.ctx(ctx)
	total, err := r.coll().CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, translate(err, "count accounts")
	}

	opts := options.Find().SetSort(bson.M{"_id": 1}).SetSkip(int64(offset))
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	docs, err := findAll[accountDocument](ctx, r.coll(), bson.M{}, opts, "list accounts")
	if err != nil {
		return nil, 0, err
	}

	out := make([]*models.Account, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].model())
	}
	return out, total, nil
}

func (r *accountRepository) ListReferrals(ctx context.Context, referrerID int64) ([]*models.Account, error) {
	docs, err := findAll[accountDocument](r.s.ctx(ctx), r.coll(), bson.M{"referred_by": referrerID},
		options.Find().SetSort(bson.M{"_id": -1}), "list referrals")
	if err != nil {
		return nil, err
	}

	out := make([]*models.Account, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].model())
	}
	return out, nil
}

func (r *accountRepository) Totals(ctx context.Context) (*repository.AccountTotals, error) {
	ctx = r.s.ctx(ctx)
	count, err := r.coll().CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, translate(err, "count accounts")
	}
	tai, err := sumDecimal(ctx, r.coll(), bson.M{}, "tai_balance")
	if err != nil {
		return nil, err
	}
	usdt, err := sumDecimal(ctx, r.coll(), bson.M{}, "usdt_balance")
	if err != nil {
		return nil, err
	}
	return &repository.AccountTotals{Count: count, TaiBalance: tai, UsdtBalance: usdt}, nil
}

type transactionDocument struct {
	ID             int64                `bson:"_id"`
	UserID         int64                `bson:"user_id"`
	Type           string               `bson:"type"`
	Amount         primitive.Decimal128 `bson:"amount"`
	Currency       string               `bson:"currency"`
	Status         string               `bson:"status"`
	Description    string               `bson:"description"`
	CounterpartyID *int64               `bson:"counterparty_id,omitempty"`
	CreatedAt      time.Time            `bson:"created_at"`
}

func (d *transactionDocument) model() *models.Transaction {
	return &models.Transaction{
		ID:             d.ID,
		UserID:         d.UserID,
		Type:           models.TransactionType(d.Type),
		Amount:         fromDecimal128(d.Amount),
		Currency:       models.Currency(d.Currency),
		Status:         models.TransactionStatus(d.Status),
		Description:    d.Description,
		CounterpartyID: d.CounterpartyID,
		CreatedAt:      d.CreatedAt,
	}
}

type transactionRepository struct{ s *Store }

func (r *transactionRepository) coll() *mongo.Collection {
	return r.s.collection(transactionsCollection)
}

func (r *transactionRepository) Create(ctx context.Context, tx *models.Transaction) error {
	id, err := r.s.nextID(ctx, transactionsCollection)
	if err != nil {
		return err
	}
	tx.ID = id
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}

	doc := &transactionDocument{
		ID:             tx.ID,
		UserID:         tx.UserID,
		Type:           string(tx.Type),
		Amount:         toDecimal128(tx.Amount),
		Currency:       string(tx.Currency),
		Status:         string(tx.Status),
		Description:    tx.Description,
		CounterpartyID: tx.CounterpartyID,
		CreatedAt:      tx.CreatedAt,
	}
	if _, err := r.coll().InsertOne(r.s.ctx(ctx), doc); err != nil {
		return translate(err, "create transaction")
	}
	return nil
}

func (r *transactionRepository) ListFor(ctx context.Context, accountID int64, limit int) ([]*models.Transaction, error) {
	filter := bson.M{"$or": bson.A{bson.M{"user_id": accountID}, bson.M{"counterparty_id": accountID}}}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return r.list(ctx, filter, opts)
}

func (r *transactionRepository) ListOwned(ctx context.Context, accountID int64) ([]*models.Transaction, error) {
	return r.list(ctx, bson.M{"user_id": accountID}, options.Find().SetSort(bson.M{"_id": 1}))
}

func (r *transactionRepository) list(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*models.Transaction, error) {
	docs, err := findAll[transactionDocument](r.s.ctx(ctx), r.coll(), filter, opts, "list transactions")
	if err != nil {
		return nil, err
	}
	out := make([]*models.Transaction, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].model())
	}
	return out, nil
}

func (r *transactionRepository) SumByType(ctx context.Context, accountID int64, txType models.TransactionType, currency models.Currency) (decimal.Decimal, error) {
	return sumDecimal(r.s.ctx(ctx), r.coll(),
		bson.M{"user_id": accountID, "type": string(txType), "currency": string(currency)}, "amount")
}

type withdrawalDocument struct {
	ID          int64                `bson:"_id"`
	UserID      int64                `bson:"user_id"`
	Amount      primitive.Decimal128 `bson:"amount"`
	Currency    string               `bson:"currency"`
	Address     string               `bson:"address"`
	Status      string               `bson:"status"`
	CreatedAt   time.Time            `bson:"created_at"`
	ProcessedAt *time.Time           `bson:"processed_at,omitempty"`
	ProcessedBy *int64               `bson:"processed_by,omitempty"`
}

func newWithdrawalDocument(w *models.Withdrawal) *withdrawalDocument {
	return &withdrawalDocument{
		ID:          w.ID,
		UserID:      w.UserID,
		Amount:      toDecimal128(w.Amount),
		Currency:    string(w.Currency),
		Address:     w.Address,
		Status:      string(w.Status),
		CreatedAt:   w.CreatedAt,
		ProcessedAt: w.ProcessedAt,
		ProcessedBy: w.ProcessedBy,
	}
}

func (d *withdrawalDocument) model() *models.Withdrawal {
	return &models.Withdrawal{
		ID:          d.ID,
		UserID:      d.UserID,
		Amount:      fromDecimal128(d.Amount),
		Currency:    models.Currency(d.Currency),
		Address:     d.Address,
		Status:      models.WithdrawalStatus(d.Status),
		CreatedAt:   d.CreatedAt,
		ProcessedAt: d.ProcessedAt,
		ProcessedBy: d.ProcessedBy,
	}
}

type withdrawalRepository struct{ s *Store }

func (r *withdrawalRepository) coll() *mongo.Collection {
	return r.s.collection(withdrawalsCollection)
}

func (r *withdrawalRepository) Create(ctx context.Context, w *models.Withdrawal) error {
	id, err := r.s.nextID(ctx, withdrawalsCollection)
	if err != nil {
		return err
	}
	w.ID = id
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now()
	}
	if _, err := r.coll().InsertOne(r.s.ctx(ctx), newWithdrawalDocument(w)); err != nil {
		return translate(err, "create withdrawal")
	}
	return nil
}

func (r *withdrawalRepository) GetByID(ctx context.Context, id int64) (*models.Withdrawal, error) {
	var doc withdrawalDocument
	if err := r.coll().FindOne(r.s.ctx(ctx), bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, translate(err, "get withdrawal")
	}
	return doc.model(), nil
}

func (r *withdrawalRepository) Update(ctx context.Context, w *models.Withdrawal) error {
	res, err := r.coll().ReplaceOne(r.s.ctx(ctx), bson.M{"_id": w.ID}, newWithdrawalDocument(w))
	if err != nil {
		return translate(err, "update withdrawal")
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *withdrawalRepository) ListByUser(ctx context.Context, userID int64) ([]*models.Withdrawal, error) {
	return r.list(ctx, bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}))
}

func (r *withdrawalRepository) ListPending(ctx context.Context) ([]*models.Withdrawal, error) {
	return r.list(ctx, bson.M{"status": string(models.WithdrawalStatusPending)},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}))
}

func (r *withdrawalRepository) list(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*models.Withdrawal, error) {
	docs, err := findAll[withdrawalDocument](r.s.ctx(ctx), r.coll(), filter, opts, "list withdrawals")
	if err != nil {
		return nil, err
	}
	out := make([]*models.Withdrawal, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].model())
	}
	return out, nil
}

func (r *withdrawalRepository) CountPending(ctx context.Context) (int64, error) {
	count, err := r.coll().CountDocuments(r.s.ctx(ctx), bson.M{"status": string(models.WithdrawalStatusPending)})
	if err != nil {
		return 0, translate(err, "count pending withdrawals")
	}
	return count, nil
}

func (r *withdrawalRepository) SumPending(ctx context.Context, userID int64, currency models.Currency) (decimal.Decimal, error) {
	return sumDecimal(r.s.ctx(ctx), r.coll(), bson.M{
		"user_id":  userID,
		"currency": string(currency),
		"status":   string(models.WithdrawalStatusPending),
	}, "amount")
}

type stakingDocument struct {
	ID           int64                `bson:"_id"`
	UserID       int64                `bson:"user_id"`
	Amount       primitive.Decimal128 `bson:"amount"`
	StartedAt    time.Time            `bson:"started_at"`
	EndAt        time.Time            `bson:"end_at"`
	Status       string               `bson:"status"`
	LastRewardAt time.Time            `bson:"last_reward_at"`
	SettledAt    *time.Time           `bson:"settled_at,omitempty"`
	Reward       primitive.Decimal128 `bson:"reward"`
}

func newStakingDocument(p *models.StakingPosition) *stakingDocument {
	return &stakingDocument{
		ID:           p.ID,
		UserID:       p.UserID,
		Amount:       toDecimal128(p.Amount),
		StartedAt:    p.StartedAt,
		EndAt:        p.EndAt,
		Status:       string(p.Status),
		LastRewardAt: p.LastRewardAt,
		SettledAt:    p.SettledAt,
		Reward:       toDecimal128(p.Reward),
	}
}

func (d *stakingDocument) model() *models.StakingPosition {
	return &models.StakingPosition{
		ID:           d.ID,
		UserID:       d.UserID,
		Amount:       fromDecimal128(d.Amount),
		StartedAt:    d.StartedAt,
		EndAt:        d.EndAt,
		Status:       models.StakingStatus(d.Status),
		LastRewardAt: d.LastRewardAt,
		SettledAt:    d.SettledAt,
		Reward:       fromDecimal128(d.Reward),
	}
}

type stakingRepository struct{ s *Store }

func (r *stakingRepository) coll() *mongo.Collection {
	return r.s.collection(stakingsCollection)
}

func (r *stakingRepository) Create(ctx context.Context, p *models.StakingPosition) error {
	id, err := r.s.nextID(ctx, stakingsCollection)
	if err != nil {
		return err
	}
	p.ID = id
	if _, err := r.coll().InsertOne(r.s.ctx(ctx), newStakingDocument(p)); err != nil {
		return translate(err, "create staking position")
	}
	return nil
}

func (r *stakingRepository) GetByID(ctx context.Context, id int64) (*models.StakingPosition, error) {
	var doc stakingDocument
	if err := r.coll().FindOne(r.s.ctx(ctx), bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, translate(err, "get staking position")
	}
	return doc.model(), nil
}

func (r *stakingRepository) Update(ctx context.Context, p *models.StakingPosition) error {
	res, err := r.coll().ReplaceOne(r.s.ctx(ctx), bson.M{"_id": p.ID}, newStakingDocument(p))
	if err != nil {
		return translate(err, "update staking position")
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *stakingRepository) ListByUser(ctx context.Context, userID int64) ([]*models.StakingPosition, error) {
	return r.list(ctx, bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}, {Key: "_id", Value: -1}}))
}

func (r *stakingRepository) ListMatured(ctx context.Context, now time.Time, after *repository.MaturedCursor, limit int) ([]*models.StakingPosition, error) {
	opts := options.Find().SetSort(bson.D{{Key: "end_at", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	filter := bson.M{
		"status": string(models.StakingStatusActive),
		"end_at": bson.M{"$lte": now},
	}
	if after != nil {
		filter["$or"] = bson.A{
			bson.M{"end_at": bson.M{"$gt": after.EndAt}},
			bson.M{"end_at": after.EndAt, "_id": bson.M{"$gt": after.ID}},
		}
	}
	return r.list(ctx, filter, opts)
}

func (r *stakingRepository) CountActive(ctx context.Context) (int64, error) {
	count, err := r.coll().CountDocuments(r.s.ctx(ctx), bson.M{"status": string(models.StakingStatusActive)})
	if err != nil {
		return 0, translate(err, "count active staking positions")
	}
	return count, nil
}

func (r *stakingRepository) list(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*models.StakingPosition, error) {
	docs, err := findAll[stakingDocument](r.s.ctx(ctx), r.coll(), filter, opts, "list staking positions")
	if err != nil {
		return nil, err
	}
	out := make([]*models.StakingPosition, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].model())
	}
	return out, nil
}
