// Package dynamodb provides a tablestore.Store backed by a single DynamoDB
// table.
//
// Every collection shares one DynamoDB table keyed by a string partition key
// "pk" and a string sort key "sk":
//   - the registry lives under pk "<ns>#tables", one item per table with the
//     table name as sk and the dimension in attribute "dim"
//   - rows live under pk "<ns>t#<table>", one item per row with the row id
//     as sk and the encoded vector in attribute "vec"
//
// Create the table with:
//
//	aws dynamodb create-table \
//	  --table-name tinyvec \
//	  --attribute-definitions AttributeName=pk,AttributeType=S AttributeName=sk,AttributeType=S \
//	  --key-schema AttributeName=pk,KeyType=HASH AttributeName=sk,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
//
// Writes are buffered until Commit, which sends them with BatchWriteItem.
// DynamoDB has no multi-batch transaction, so a failed Commit may leave part
// of the window applied. The buffer is kept on failure and every commit
// request is idempotent, so calling Commit again converges.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/time/rate"

	"github.com/hupe1980/tinyvec/tablestore"
	"github.com/hupe1980/tinyvec/tablestore/internal/staging"
)

const (
	attrPK  = "pk"
	attrSK  = "sk"
	attrDim = "dim"
	attrVec = "vec"

	// maxBatchSize is the BatchWriteItem request limit.
	maxBatchSize = 25
)

// ErrUnprocessed is returned when DynamoDB keeps rejecting batch items after
// every retry.
var ErrUnprocessed = errors.New("dynamodb: unprocessed items remain after retries")

// Client is the subset of the DynamoDB API the store uses.
type Client interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Options configures a Store.
type Options struct {
	// Namespace prefixes every partition key, so several databases can share
	// one DynamoDB table.
	Namespace string

	// WriteRate bounds written items per second. Zero means unlimited.
	WriteRate float64

	// MaxRetries bounds the resubmissions of unprocessed batch items.
	MaxRetries int

	// Backoff is the delay before the first resubmission; it doubles on each
	// attempt up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// DefaultOptions returns the defaults used by NewFromClient.
func DefaultOptions() Options {
	return Options{
		MaxRetries: 8,
		Backoff:    50 * time.Millisecond,
		MaxBackoff: 5 * time.Second,
	}
}

// Option mutates Options.
type Option func(*Options)

// WithNamespace sets the partition key prefix.
func WithNamespace(ns string) Option {
	return func(o *Options) { o.Namespace = ns }
}

// WithWriteRate bounds written items per second.
func WithWriteRate(perSecond float64) Option {
	return func(o *Options) { o.WriteRate = perSecond }
}

// WithRetry sets how unprocessed batch items are resubmitted.
func WithRetry(maxRetries int, backoff, maxBackoff time.Duration) Option {
	return func(o *Options) {
		o.MaxRetries = maxRetries
		o.Backoff = backoff
		o.MaxBackoff = maxBackoff
	}
}

// Store is a DynamoDB table store.
type Store struct {
	mu        sync.Mutex
	client    Client
	table     string
	tablesPK  string
	rowPrefix string
	opts      Options
	limiter   *rate.Limiter
	buf       *staging.Buffer
	closed    bool
}

var (
	_ tablestore.Store     = (*Store)(nil)
	_ tablestore.Describer = (*Store)(nil)
	_ staging.Remote       = (*remote)(nil)
)

// New loads the default AWS configuration and returns a store on the named
// DynamoDB table.
func New(ctx context.Context, table string, optFns ...Option) (*Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewFromClient(dynamodb.NewFromConfig(cfg), table, optFns...), nil
}

// NewFromClient returns a store on the named DynamoDB table using client.
func NewFromClient(client Client, table string, optFns ...Option) *Store {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	limiter := rate.NewLimiter(rate.Inf, maxBatchSize)
	if opts.WriteRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.WriteRate), max(int(opts.WriteRate), maxBatchSize))
	}

	s := &Store{
		client:    client,
		table:     table,
		tablesPK:  opts.Namespace + "#tables",
		rowPrefix: opts.Namespace + "t#",
		opts:      opts,
		limiter:   limiter,
	}
	s.buf = staging.New(&remote{s: s})
	return s
}

func (s *Store) rowPK(table string) string {
	return s.rowPrefix + table
}

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: pk},
		attrSK: &types.AttributeValueMemberS{Value: sk},
	}
}

func stringAttr(item map[string]types.AttributeValue, name string) (string, bool) {
	v, ok := item[name].(*types.AttributeValueMemberS)
	if !ok {
		return "", false
	}
	return v.Value, true
}

// remote reads committed state with consistent reads.
type remote struct {
	s *Store
}

func (r *remote) TableDimension(ctx context.Context, name string) (int, bool, error) {
	out, err := r.s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.s.table),
		Key:            key(r.s.tablesPK, name),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, false, err
	}
	if out.Item == nil {
		return 0, false, nil
	}
	n, ok := out.Item[attrDim].(*types.AttributeValueMemberN)
	if !ok {
		return 0, true, nil
	}
	dim, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, false, fmt.Errorf("table %q: invalid dimension %q", name, n.Value)
	}
	return dim, true, nil
}

func (r *remote) RowExists(ctx context.Context, table, id string) (bool, error) {
	out, err := r.s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(r.s.table),
		Key:                  key(r.s.rowPK(table), id),
		ConsistentRead:       aws.Bool(true),
		ProjectionExpression: aws.String(attrSK),
	})
	if err != nil {
		return false, err
	}
	return out.Item != nil, nil
}

// query returns every item under pk in sort key order.
func (s *Store) query(ctx context.Context, pk string, projection ...string) ([]map[string]types.AttributeValue, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("#pk = :pk"),
		ExpressionAttributeNames: map[string]string{
			"#pk": attrPK,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
		},
		ConsistentRead: aws.Bool(true),
	}
	if len(projection) > 0 {
		expr := ""
		for i, attr := range projection {
			alias := "#p" + strconv.Itoa(i)
			input.ExpressionAttributeNames[alias] = attr
			if i > 0 {
				expr += ", "
			}
			expr += alias
		}
		input.ProjectionExpression = aws.String(expr)
	}

	var items []map[string]types.AttributeValue
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

func (s *Store) lock() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return tablestore.ErrClosed
	}
	return nil
}

// TouchTable implements tablestore.Store.
func (s *Store) TouchTable(ctx context.Context, name string, dimension int) error {
	if err := tablestore.ValidateTableName(name); err != nil {
		return err
	}
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	return s.buf.TouchTable(ctx, name, dimension)
}

// DeleteTable implements tablestore.Store.
func (s *Store) DeleteTable(ctx context.Context, name string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	return s.buf.DeleteTable(ctx, name)
}

// TableNames implements tablestore.Store.
func (s *Store) TableNames(ctx context.Context) ([]string, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	items, err := s.query(ctx, s.tablesPK, attrSK)
	if err != nil {
		return nil, err
	}
	committed := make([]string, 0, len(items))
	for _, item := range items {
		if name, ok := stringAttr(item, attrSK); ok {
			committed = append(committed, name)
		}
	}
	return s.buf.Names(committed), nil
}

// TableDimension implements tablestore.Describer.
func (s *Store) TableDimension(ctx context.Context, name string) (int, bool, error) {
	if err := s.lock(); err != nil {
		return 0, false, err
	}
	defer s.mu.Unlock()

	dim, ok, err := s.buf.TableDimension(ctx, name)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, fmt.Errorf("%w: %q", tablestore.ErrTableNotFound, name)
	}
	return dim, true, nil
}

// TableData implements tablestore.Store. Committed rows come back sorted by
// id, the DynamoDB sort key order.
func (s *Store) TableData(ctx context.Context, name string) ([]string, []string, error) {
	if err := s.lock(); err != nil {
		return nil, nil, err
	}
	defer s.mu.Unlock()

	ok, err := s.buf.TableExists(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", tablestore.ErrTableNotFound, name)
	}

	ids, encoded := []string{}, []string{}
	if !s.buf.Buffered(name) {
		items, err := s.query(ctx, s.rowPK(name), attrSK, attrVec)
		if err != nil {
			return nil, nil, err
		}
		for _, item := range items {
			id, _ := stringAttr(item, attrSK)
			vec, ok := stringAttr(item, attrVec)
			if !ok {
				return nil, nil, fmt.Errorf("table %q: row %q has no vector", name, id)
			}
			ids = append(ids, id)
			encoded = append(encoded, vec)
		}
	}

	ids, encoded = s.buf.Rows(name, ids, encoded)
	return ids, encoded, nil
}

// InsertRow implements tablestore.Store.
func (s *Store) InsertRow(ctx context.Context, table, id, encoded string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	return s.buf.InsertRow(ctx, table, id, encoded)
}

// UpdateRow implements tablestore.Store.
func (s *Store) UpdateRow(ctx context.Context, table, id, encoded string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	return s.buf.UpdateRow(ctx, table, id, encoded)
}

// DeleteRow implements tablestore.Store.
func (s *Store) DeleteRow(ctx context.Context, table, id string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	return s.buf.DeleteRow(ctx, table, id)
}

// Commit writes the buffered window. Dropped tables are wiped first, then
// registry entries and rows are written.
func (s *Store) Commit(ctx context.Context) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	pending := s.buf.Pending()
	if len(pending) == 0 {
		return nil
	}

	// A batch may not name the same key twice, so wipes go out on their own
	// before rows of a recreated table are written.
	wipe := s.newBatcher()
	for _, ch := range pending {
		if !ch.Drop {
			continue
		}
		items, err := s.query(ctx, s.rowPK(ch.Name), attrSK)
		if err != nil {
			return fmt.Errorf("commit: drop %q: %w", ch.Name, err)
		}
		for _, item := range items {
			id, _ := stringAttr(item, attrSK)
			if err := wipe.delete(ctx, key(s.rowPK(ch.Name), id)); err != nil {
				return fmt.Errorf("commit: drop %q: %w", ch.Name, err)
			}
		}
		if err := wipe.delete(ctx, key(s.tablesPK, ch.Name)); err != nil {
			return fmt.Errorf("commit: drop %q: %w", ch.Name, err)
		}
	}
	if err := wipe.flush(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	write := s.newBatcher()
	for _, ch := range pending {
		if ch.Create {
			item := key(s.tablesPK, ch.Name)
			item[attrDim] = &types.AttributeValueMemberN{Value: strconv.Itoa(ch.Dimension)}
			if err := write.put(ctx, item); err != nil {
				return fmt.Errorf("commit: create %q: %w", ch.Name, err)
			}
		}
		pk := s.rowPK(ch.Name)
		for _, row := range ch.Puts {
			item := key(pk, row.ID)
			item[attrVec] = &types.AttributeValueMemberS{Value: row.Encoded}
			if err := write.put(ctx, item); err != nil {
				return fmt.Errorf("commit: table %q: %w", ch.Name, err)
			}
		}
		for _, id := range ch.Deletes {
			if err := write.delete(ctx, key(pk, id)); err != nil {
				return fmt.Errorf("commit: table %q: %w", ch.Name, err)
			}
		}
	}
	if err := write.flush(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.buf.Reset()
	return nil
}

// Close discards buffered writes. The client is not owned by the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.buf.Reset()
	return nil
}

// batcher groups write requests into BatchWriteItem calls.
type batcher struct {
	s       *Store
	pending []types.WriteRequest
}

func (s *Store) newBatcher() *batcher {
	return &batcher{s: s, pending: make([]types.WriteRequest, 0, maxBatchSize)}
}

func (b *batcher) put(ctx context.Context, item map[string]types.AttributeValue) error {
	return b.add(ctx, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
}

func (b *batcher) delete(ctx context.Context, k map[string]types.AttributeValue) error {
	return b.add(ctx, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: k}})
}

func (b *batcher) add(ctx context.Context, req types.WriteRequest) error {
	b.pending = append(b.pending, req)
	if len(b.pending) < maxBatchSize {
		return nil
	}
	return b.flush(ctx)
}

func (b *batcher) flush(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}
	reqs := b.pending
	b.pending = make([]types.WriteRequest, 0, maxBatchSize)
	return b.s.batchWrite(ctx, reqs)
}

// batchWrite sends reqs and resubmits unprocessed items with exponential
// backoff.
func (s *Store) batchWrite(ctx context.Context, reqs []types.WriteRequest) error {
	delay := s.opts.Backoff
	for attempt := 0; ; attempt++ {
		if err := s.limiter.WaitN(ctx, len(reqs)); err != nil {
			return err
		}

		out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{s.table: reqs},
		})
		if err != nil {
			return err
		}

		reqs = out.UnprocessedItems[s.table]
		if len(reqs) == 0 {
			return nil
		}
		if attempt >= s.opts.MaxRetries {
			return fmt.Errorf("%w: %d items", ErrUnprocessed, len(reqs))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(2*delay, s.opts.MaxBackoff)
	}
}
