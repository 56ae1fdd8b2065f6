package filing

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/lca-filing-automation/internal/interaction"
	"github.com/wolfman30/lca-filing-automation/internal/lca"
	"github.com/wolfman30/lca-filing-automation/internal/lca/lcatest"
	"github.com/wolfman30/lca-filing-automation/internal/progress"
	"github.com/wolfman30/lca-filing-automation/internal/store"
)

type recordingArchive struct {
	mu      sync.Mutex
	results []lca.FilingResult
}

func (a *recordingArchive) PutResult(_ context.Context, res lca.FilingResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, res)
	return nil
}

type staticSnapshots struct {
	state progress.State
	err   error
}

func (s staticSnapshots) Load(_ context.Context, filingID string) (progress.State, bool, error) {
	if s.err != nil {
		return progress.State{}, false, s.err
	}
	if filingID != s.state.FilingID {
		return progress.State{}, false, nil
	}
	return s.state, true, nil
}

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return prefix + "-" + string(rune('0'+n))
	}
}

func TestServiceFileApplicationPersistsResult(t *testing.T) {
	h := newHarness(t)
	results := store.NewMemoryResultStore()
	archive := &recordingArchive{}
	svc := NewService(h.orchestrator(), results, h.bridge, nil,
		WithResultArchive(archive), withIDs(sequentialIDs("f")))

	res := svc.FileApplication(context.Background(), lcatest.Application())
	require.Equal(t, lca.StatusSuccess, res.Status, res.Error)
	assert.Equal(t, "f-1", res.FilingID)

	stored, err := svc.GetResult(context.Background(), "f-1")
	require.NoError(t, err)
	assert.Equal(t, confirmation, stored.ConfirmationNumber)
	require.Len(t, archive.results, 1)
	assert.Equal(t, "f-1", archive.results[0].FilingID)

	list, err := svc.ListResults(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	st, ok, err := svc.GetProgress(context.Background(), "f-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, progress.StatusCompleted, st.Status)
}

func TestServiceInteractionRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.rejectNAICS()
	svc := NewService(h.orchestrator(), store.NewMemoryResultStore(), h.bridge, nil, withIDs(sequentialIDs("f")))

	done := make(chan lca.FilingResult, 1)
	go func() { done <- svc.FileApplication(context.Background(), lcatest.Application()) }()

	var pending *interaction.Request
	require.Eventually(t, func() bool {
		var ok bool
		pending, ok = svc.GetPendingInteraction("f-1")
		return ok
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, employerSection, pending.Section)

	_, err := svc.ResolveInteraction(context.Background(), "f-1", interaction.Result{Values: map[string]any{"wrong_field": "x"}})
	assert.ErrorIs(t, err, interaction.ErrInvalidResult)
	_, stillPending := svc.GetPendingInteraction("f-1")
	assert.True(t, stillPending)

	ok, err := svc.ResolveInteraction(context.Background(), "f-1", interaction.Result{Values: map[string]any{"naics_code": "541512"}})
	require.NoError(t, err)
	assert.True(t, ok)

	res := <-done
	assert.Equal(t, lca.StatusSuccess, res.Status, res.Error)

	history, err := svc.InteractionHistory(context.Background(), "f-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)

	ok, err = svc.ResolveInteraction(context.Background(), "f-1", interaction.Result{Values: map[string]any{"naics_code": "1"}})
	require.NoError(t, err)
	assert.False(t, ok, "nothing pending after the filing finished")
}

func TestServiceCancelSuspendedFiling(t *testing.T) {
	h := newHarness(t)
	h.rejectNAICS()
	results := store.NewMemoryResultStore()
	svc := NewService(h.orchestrator(), results, h.bridge, nil, withIDs(sequentialIDs("f")))

	done := make(chan lca.FilingResult, 1)
	go func() { done <- svc.FileApplication(context.Background(), lcatest.Application()) }()
	require.Eventually(t, func() bool {
		_, ok := svc.GetPendingInteraction("f-1")
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	assert.True(t, svc.Cancel("f-1"))
	res := <-done
	assert.Equal(t, lca.StatusError, res.Status)

	stored, err := results.Get(context.Background(), "f-1")
	require.NoError(t, err)
	assert.Equal(t, lca.StatusError, stored.Status)
	assert.False(t, svc.Cancel("f-1"))
}

func TestServiceStartOutlivesCallerContext(t *testing.T) {
	h := newHarness(t)
	h.rejectNAICS()
	results := store.NewMemoryResultStore()
	svc := NewService(h.orchestrator(), results, h.bridge, nil,
		WithSnapshots(staticSnapshots{}), withIDs(sequentialIDs("s")))

	ctx, cancel := context.WithCancel(context.Background())
	filingID, done := svc.Start(ctx, lcatest.Application())
	assert.Equal(t, "s-1", filingID)
	cancel()

	require.Eventually(t, func() bool {
		_, ok := svc.GetPendingInteraction(filingID)
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	active := svc.ActiveFilings()
	require.Len(t, active, 1)
	assert.Equal(t, filingID, active[0].FilingID)
	assert.True(t, active[0].AwaitingInteraction)

	ok, err := svc.ResolveInteraction(context.Background(), filingID, interaction.Result{Values: map[string]any{"naics_code": "541512"}})
	require.NoError(t, err)
	require.True(t, ok)

	var res lca.FilingResult
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("filing did not finish")
	}
	require.Equal(t, lca.StatusSuccess, res.Status, res.Error)
	assert.Equal(t, filingID, res.FilingID)

	_, err = results.Get(context.Background(), filingID)
	require.NoError(t, err)
	assert.Empty(t, svc.ActiveFilings())
	_, tracked := h.registry.Get(filingID)
	assert.False(t, tracked, "finished trackers are dropped when snapshots hold the state")
}

func TestServiceStartCanBeCancelled(t *testing.T) {
	h := newHarness(t)
	h.rejectNAICS()
	svc := NewService(h.orchestrator(), store.NewMemoryResultStore(), h.bridge, nil, withIDs(sequentialIDs("s")))

	filingID, done := svc.Start(context.Background(), lcatest.Application())
	require.Eventually(t, func() bool {
		_, ok := svc.GetPendingInteraction(filingID)
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	assert.True(t, svc.Cancel(filingID))
	res := <-done
	assert.Equal(t, lca.StatusError, res.Status)

	// Without snapshots the finished tracker is kept for the retention period.
	st, ok, err := svc.GetProgress(context.Background(), filingID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, progress.StatusFailed, st.Status)
	assert.Empty(t, svc.ActiveFilings())
}

func TestServiceFinishedRetention(t *testing.T) {
	h := newHarness(t)
	svc := NewService(h.orchestrator(), store.NewMemoryResultStore(), nil, nil,
		WithFinishedRetention(0), withIDs(sequentialIDs("r")))

	res := svc.FileApplication(context.Background(), lcatest.Application())
	require.Equal(t, lca.StatusSuccess, res.Status, res.Error)
	_, tracked := h.registry.Get("r-1")
	assert.False(t, tracked)

	kept := NewService(h.orchestrator(), store.NewMemoryResultStore(), nil, nil,
		WithFinishedRetention(time.Hour), withIDs(sequentialIDs("k")))
	res = kept.FileApplication(context.Background(), lcatest.Application())
	require.Equal(t, lca.StatusSuccess, res.Status, res.Error)
	_, tracked = h.registry.Get("k-1")
	assert.True(t, tracked)
}

func TestServiceGateBoundsConcurrentFilings(t *testing.T) {
	h := newHarness(t)
	h.rejectNAICS()
	svc := NewService(h.orchestrator(), store.NewMemoryResultStore(), h.bridge, nil,
		WithMaxConcurrentFilings(1), withIDs(sequentialIDs("f")))

	first := make(chan lca.FilingResult, 1)
	go func() { first <- svc.FileApplication(context.Background(), lcatest.Application()) }()
	require.Eventually(t, func() bool {
		_, ok := svc.GetPendingInteraction("f-1")
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	// The only slot is held by the suspended filing.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	second := svc.FileApplication(ctx, lcatest.Application())
	assert.Equal(t, lca.StatusError, second.Status)
	assert.Contains(t, second.Error, "waiting for a free slot")
	assert.Empty(t, second.StepsCompleted)

	assert.True(t, svc.Cancel("f-1"))
	<-first
}

func TestServiceSubmitAndDispatch(t *testing.T) {
	h := newHarness(t)
	results := store.NewMemoryResultStore()
	queue := NewMemoryQueue(4)
	svc := NewService(h.orchestrator(), results, h.bridge, nil, WithQueue(queue), withIDs(sequentialIDs("q")))

	filingID, err := svc.Submit(context.Background(), lcatest.Application())
	require.NoError(t, err)
	assert.Equal(t, "q-1", filingID)

	st, ok, err := svc.GetProgress(context.Background(), filingID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, progress.StatusPending, st.Status)

	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(svc, queue, nil, WithWorkerCount(1), WithReceiveWaitSeconds(1))
	d.Start(ctx)

	require.Eventually(t, func() bool {
		_, err := results.Get(context.Background(), filingID)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	d.Wait()

	res, err := svc.GetResult(context.Background(), filingID)
	require.NoError(t, err)
	assert.Equal(t, lca.StatusSuccess, res.Status, res.Error)
	assert.Zero(t, queue.Len())
}

func TestServiceSubmitWithoutQueue(t *testing.T) {
	h := newHarness(t)
	svc := NewService(h.orchestrator(), store.NewMemoryResultStore(), nil, nil)

	_, err := svc.Submit(context.Background(), lcatest.Application())
	assert.ErrorIs(t, err, ErrQueueDisabled)

	req, ok := svc.GetPendingInteraction("nope")
	assert.Nil(t, req)
	assert.False(t, ok)
}

func TestServiceProgressFallsBackToSnapshots(t *testing.T) {
	h := newHarness(t)
	snap := progress.State{FilingID: "remote-1", Status: progress.StatusPaused, AwaitingInteraction: true}
	svc := NewService(h.orchestrator(), store.NewMemoryResultStore(), nil, nil, WithSnapshots(staticSnapshots{state: snap}))

	st, ok, err := svc.GetProgress(context.Background(), "remote-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, st.AwaitingInteraction)

	_, ok, err = svc.GetProgress(context.Background(), "unknown")
	require.NoError(t, err)
	assert.False(t, ok)

	broken := NewService(h.orchestrator(), store.NewMemoryResultStore(), nil, nil, WithSnapshots(staticSnapshots{err: errors.New("redis down")}))
	_, _, err = broken.GetProgress(context.Background(), "remote-1")
	assert.Error(t, err)
}

func TestDispatcherDropsMalformedJobs(t *testing.T) {
	h := newHarness(t)
	queue := NewMemoryQueue(4)
	svc := NewService(h.orchestrator(), store.NewMemoryResultStore(), nil, nil, WithQueue(queue))
	d := NewDispatcher(svc, queue, nil)

	d.handleMessage(context.Background(), QueueMessage{ID: "m1", Body: "{not json"})
	d.handleMessage(context.Background(), QueueMessage{ID: "m2", Body: `{"kind":"other.v1","filing_id":"x"}`})
	assert.Zero(t, h.pool.acquired)
}

func TestDispatcherSkipsRedeliveredFiling(t *testing.T) {
	h := newHarness(t)
	queue := NewMemoryQueue(4)
	results := store.NewMemoryResultStore()
	require.NoError(t, results.Save(context.Background(), lca.FilingResult{FilingID: "f-7", Status: lca.StatusSuccess}))
	svc := NewService(h.orchestrator(), results, nil, nil, WithQueue(queue))
	d := NewDispatcher(svc, queue, nil)

	payload, body, err := encodePayload(queuePayload{FilingID: "f-7", Application: lcatest.Application()})
	require.NoError(t, err)
	d.handleMessage(context.Background(), QueueMessage{ID: payload.ID, FilingID: "f-7", Body: body, ReceiveCount: 2})
	assert.Zero(t, h.pool.acquired)

	stored, err := results.Get(context.Background(), "f-7")
	require.NoError(t, err)
	assert.Equal(t, lca.StatusSuccess, stored.Status)
}

func TestDispatcherOptionsClamp(t *testing.T) {
	cfg := dispatcherConfig{}
	WithReceiveWaitSeconds(60)(&cfg)
	WithReceiveBatchSize(50)(&cfg)
	WithWorkerCount(0)(&cfg)
	assert.Equal(t, maxWaitSeconds, cfg.receiveWaitSecs)
	assert.Equal(t, maxReceiveBatchSize, cfg.receiveBatchSize)
	assert.Zero(t, cfg.workers)
}

type fakeSQS struct {
	sent     []*sqs.SendMessageInput
	received []*sqs.ReceiveMessageInput
	deleted  []string
	messages []sqstypes.Message
	err      error
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.received = append(f.received, in)
	n := int(in.MaxNumberOfMessages)
	if n > len(f.messages) {
		n = len(f.messages)
	}
	out := f.messages[:n]
	f.messages = f.messages[n:]
	return &sqs.ReceiveMessageOutput{Messages: out}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSQueue(t *testing.T) {
	assert.Panics(t, func() { NewSQSQueue(nil, "url") })
	assert.Panics(t, func() { NewSQSQueue(&fakeSQS{}, "") })

	fake := &fakeSQS{messages: []sqstypes.Message{
		{
			MessageId:         aws.String("a"),
			Body:              aws.String(`{"kind":"lca.file.v1"}`),
			ReceiptHandle:     aws.String("rh-a"),
			Attributes:        map[string]string{"ApproximateReceiveCount": "3"},
			MessageAttributes: map[string]sqstypes.MessageAttributeValue{"filing_id": {DataType: aws.String("String"), StringValue: aws.String("f-9")}},
		},
		{MessageId: aws.String("b"), Body: aws.String("{}"), ReceiptHandle: aws.String("rh-b")},
	}}
	q := NewSQSQueue(fake, "https://sqs.us-east-1.amazonaws.com/123/lca-filings")

	payload, body, err := encodePayload(queuePayload{FilingID: "f-9", Application: lcatest.Application()})
	require.NoError(t, err)
	require.NoError(t, q.Send(context.Background(), payload.job(body)))
	require.Len(t, fake.sent, 1)
	sent := fake.sent[0]
	assert.Nil(t, sent.MessageGroupId)
	assert.Equal(t, "f-9", aws.ToString(sent.MessageAttributes["filing_id"].StringValue))
	assert.Equal(t, string(jobKindFile), aws.ToString(sent.MessageAttributes["kind"].StringValue))

	var decoded queuePayload
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(sent.MessageBody)), &decoded))
	assert.Equal(t, jobKindFile, decoded.Kind)
	assert.NotEmpty(t, decoded.ID)
	assert.Equal(t, "app-1001", decoded.Application.ID)
	require.NotNil(t, decoded.Application.Credentials)

	msgs, err := q.Receive(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "rh-a", msgs[0].ReceiptHandle)
	assert.Equal(t, "f-9", msgs[0].FilingID)
	assert.Equal(t, 3, msgs[0].ReceiveCount)
	assert.Equal(t, []sqstypes.MessageSystemAttributeName{sqstypes.MessageSystemAttributeNameApproximateReceiveCount},
		fake.received[0].MessageSystemAttributeNames)

	msgs, err = q.Receive(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 1, msgs[0].ReceiveCount)

	require.NoError(t, q.Delete(context.Background(), "rh-a"))
	require.NoError(t, q.Delete(context.Background(), ""))
	assert.Equal(t, []string{"rh-a"}, fake.deleted)

	fake.err = errors.New("throttled")
	assert.Error(t, q.Send(context.Background(), Job{Body: "x"}))
	_, err = q.Receive(context.Background(), 1, 0)
	assert.Error(t, err)
}

func TestSQSQueueFIFOGroupsByFiling(t *testing.T) {
	fake := &fakeSQS{}
	q := NewSQSQueue(fake, "https://sqs.us-east-1.amazonaws.com/123/lca-filings.fifo")

	require.NoError(t, q.Send(context.Background(), Job{ID: "job-1", FilingID: "f-3", Kind: string(jobKindFile), Body: "{}"}))
	require.Len(t, fake.sent, 1)
	assert.Equal(t, "f-3", aws.ToString(fake.sent[0].MessageGroupId))
	assert.Equal(t, "job-1", aws.ToString(fake.sent[0].MessageDeduplicationId))

	assert.Error(t, q.Send(context.Background(), Job{Body: "{}"}))
	assert.Len(t, fake.sent, 1)
}

func TestMemoryQueueReceive(t *testing.T) {
	q := NewMemoryQueue(0)
	require.NoError(t, q.Send(context.Background(), Job{ID: "j-a", FilingID: "f-a", Body: "a"}))
	require.NoError(t, q.Send(context.Background(), Job{Body: "b"}))
	require.NoError(t, q.Send(context.Background(), Job{Body: "c"}))

	msgs, err := q.Receive(context.Background(), 2, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].Body)
	assert.Equal(t, "j-a", msgs[0].ID)
	assert.Equal(t, "f-a", msgs[0].FilingID)
	assert.Equal(t, 1, msgs[0].ReceiveCount)
	assert.NotEmpty(t, msgs[1].ID)

	msgs, err = q.Receive(context.Background(), 5, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = q.Receive(ctx, 1, 0)
	assert.ErrorIs(t, err, context.Canceled)
}
