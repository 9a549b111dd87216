package storage

import (
	"context"
	"encoding/json"
	"runtime"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"github.com/DeSecurity/focused-life-hq/domain"
)

const (
	defaultQueueConcurrency = 4
	queuePerCPU             = 10
	maxQueueConcurrency     = 64
)

// queueClient abstracts the Azure queue operations used by Storage.
type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
	DequeueMessage(ctx context.Context, o *azqueue.DequeueMessageOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
}

// Storage provides access to the underlying persistence mechanisms: the
// read-model tables, and the command queue feeding the worker.
type Storage struct {
	taskTable        *aztables.Client
	itemTable        *aztables.Client
	settingsTable    *aztables.Client
	commandQueue     queueClient
	queueConcurrency int
	taskPageSize     int
}

// New creates a Storage instance from the given connection string and
// provisions any table or queue that does not exist yet.
func New(connStr, tasksTable, itemsTable, settingsTable, commandQueue string, taskPageSize int) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	cq, err := azqueue.NewQueueClientFromConnectionString(connStr, commandQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	s := &Storage{
		taskTable:        svc.NewClient(tasksTable),
		itemTable:        svc.NewClient(itemsTable),
		settingsTable:    svc.NewClient(settingsTable),
		commandQueue:     cq,
		queueConcurrency: queueConcurrencyForCPU(runtime.NumCPU()),
		taskPageSize:     taskPageSize,
	}

	provisionCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := s.provision(provisionCtx, cq); err != nil {
		return nil, err
	}
	return s, nil
}

// provision creates the read-model tables and the command queue on first
// start. Resources that already exist are left untouched.
func (s *Storage) provision(ctx context.Context, queue *azqueue.QueueClient) error {
	for _, table := range []*aztables.Client{s.taskTable, s.itemTable, s.settingsTable} {
		if _, err := table.CreateTable(ctx, nil); err != nil && !isAlreadyExists(err) {
			return err
		}
	}
	if _, err := queue.Create(ctx, nil); err != nil && !isAlreadyExists(err) {
		return err
	}
	return nil
}

func queueConcurrencyForCPU(cpu int) int {
	if cpu <= 0 {
		return defaultQueueConcurrency
	}
	n := cpu * queuePerCPU
	if n > maxQueueConcurrency {
		return maxQueueConcurrency
	}
	return n
}

// FetchTasks retrieves one page of tasks for the provided user. An empty
// continuation token starts at the beginning; the returned token is empty on
// the last page. A limit of zero uses the configured default page size.
func (s *Storage) FetchTasks(ctx context.Context, userID, continuationToken string, limit int) ([]domain.Task, string, error) {
	if limit <= 0 {
		limit = s.taskPageSize
	}
	nextPK, nextRK, err := decodeContinuationToken(continuationToken)
	if err != nil {
		return nil, "", err
	}

	filter := "PartitionKey eq '" + escapeKey(userID) + "'"
	top := int32(limit)
	opts := &aztables.ListEntitiesOptions{Filter: &filter, Top: &top}
	if nextPK != "" && nextRK != "" {
		opts.NextPartitionKey = &nextPK
		opts.NextRowKey = &nextRK
	}

	pager := s.taskTable.NewListEntitiesPager(opts)
	tasks := []domain.Task{}
	nextToken := ""
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, "", err
		}
		for _, e := range resp.Entities {
			var ent taskEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, "", err
			}
			tasks = append(tasks, ent.toDomain())
		}
		if len(tasks) >= limit {
			nextToken = encodeContinuationToken(resp.NextPartitionKey, resp.NextRowKey)
			break
		}
	}
	return tasks, nextToken, nil
}

// FetchAllTasks drains every page for the user. The worker uses it to build
// the board snapshot the ordering engine operates on.
func (s *Storage) FetchAllTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + escapeKey(userID) + "'"
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent taskEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			tasks = append(tasks, ent.toDomain())
		}
	}
	return tasks, nil
}

// FetchItems retrieves every item of the given kind for the user.
func (s *Storage) FetchItems(ctx context.Context, userID string, kind domain.ItemKind) ([]domain.Item, error) {
	filter := "PartitionKey eq '" + escapeKey(userID) + "' and Kind eq '" + string(kind) + "'"
	pager := s.itemTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	items := []domain.Item{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent itemEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			items = append(items, ent.toDomain())
		}
	}
	return items, nil
}

// FetchSettings retrieves user settings, falling back to defaults when the
// user has never saved any.
func (s *Storage) FetchSettings(ctx context.Context, userID string) (domain.Settings, error) {
	ent, err := s.settingsTable.GetEntity(ctx, userID, userID, nil)
	if err != nil {
		if isNotFound(err) {
			return defaultSettings(), nil
		}
		return domain.Settings{}, err
	}
	return decodeSettingsEntity(ent.Value)
}

func defaultSettings() domain.Settings {
	return domain.Settings{TasksPerColumn: 30, ShowDoneTasks: false}
}

func decodeSettingsEntity(data []byte) (domain.Settings, error) {
	var raw struct {
		TasksPerColumn int  `json:"TasksPerColumn"`
		ShowDoneTasks  bool `json:"ShowDoneTasks"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.Settings{}, err
	}
	return domain.Settings{TasksPerColumn: raw.TasksPerColumn, ShowDoneTasks: raw.ShowDoneTasks}, nil
}

// EnqueueCommands sends the given commands to the command queue, fanning out
// up to queueConcurrency sends at a time.
func (s *Storage) EnqueueCommands(ctx context.Context, userID string, cmds []domain.Command) error {
	if len(cmds) == 0 {
		return nil
	}
	concurrency := s.queueConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	if concurrency > len(cmds) {
		concurrency = len(cmds)
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, cmd := range cmds {
		env := domain.CommandEnvelope{UserID: userID, Command: cmd}
		data, err := json.Marshal(env)
		if err != nil {
			return err
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(payload string) {
			defer wg.Done()
			defer func() { <-sem }()
			if _, err := s.commandQueue.EnqueueMessage(ctx, payload, nil); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(string(data))
	}
	wg.Wait()
	return firstErr
}

// Dequeue retrieves a single message from the command queue. A nil message
// means the queue was empty.
func (s *Storage) Dequeue(ctx context.Context) (*azqueue.DequeuedMessage, error) {
	resp, err := s.commandQueue.DequeueMessage(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	return resp.Messages[0], nil
}

// DeleteMessage removes a processed message from the command queue.
func (s *Storage) DeleteMessage(ctx context.Context, id, receipt string) error {
	_, err := s.commandQueue.DeleteMessage(ctx, id, receipt, nil)
	return err
}
