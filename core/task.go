package core

import (
	"container/heap"
	"fmt"

	"github.com/signalsfoundry/rumor-routing-sim/model"
)

// TaskAction is both the kind of work a task carries and its priority:
// lower values are served first, so creating traffic preempts handling it.
type TaskAction int

const (
	CreateAgent TaskAction = iota
	CreateRequest
	HandleAgent
	HandleRequest
)

func (a TaskAction) String() string {
	switch a {
	case CreateAgent:
		return "CREATE_AGENT"
	case CreateRequest:
		return "CREATE_REQUEST"
	case HandleAgent:
		return "HANDLE_AGENT"
	case HandleRequest:
		return "HANDLE_REQUEST"
	default:
		return fmt.Sprintf("TaskAction(%d)", int(a))
	}
}

// Task is a unit of node work. Action decides which payload field is set.
type Task struct {
	Action TaskAction

	event   *model.Event    // CreateAgent
	eventID int             // CreateRequest
	agent   *AgentMessage   // HandleAgent
	request *RequestMessage // HandleRequest

	tries int
	seq   uint64
}

func createAgentTask(e *model.Event) *Task      { return &Task{Action: CreateAgent, event: e} }
func createRequestTask(eventID int) *Task       { return &Task{Action: CreateRequest, eventID: eventID} }
func handleAgentTask(m *AgentMessage) *Task     { return &Task{Action: HandleAgent, agent: m} }
func handleRequestTask(m *RequestMessage) *Task { return &Task{Action: HandleRequest, request: m} }

// TryCount is the number of ticks this task has already failed to send.
func (t *Task) TryCount() int { return t.tries }

// Message returns the in-flight message of a handle task, nil otherwise.
func (t *Task) Message() Message {
	switch t.Action {
	case HandleAgent:
		return t.agent
	case HandleRequest:
		return t.request
	}
	return nil
}

// taskQueue is a priority queue by action, FIFO within an action.
type taskQueue struct {
	items taskHeap
	next  uint64
}

func (q *taskQueue) Len() int { return len(q.items) }

func (q *taskQueue) push(t *Task) {
	t.seq = q.next
	q.next++
	heap.Push(&q.items, t)
}

func (q *taskQueue) pop() *Task {
	if len(q.items) == 0 {
		return nil
	}
	return heap.Pop(&q.items).(*Task)
}

// find returns the index of the first queued task matching fn, or -1.
func (q *taskQueue) find(fn func(*Task) bool) int {
	for i, t := range q.items {
		if fn(t) {
			return i
		}
	}
	return -1
}

func (q *taskQueue) remove(i int) *Task {
	return heap.Remove(&q.items, i).(*Task)
}

// snapshot lists queued tasks in service order without draining the queue.
func (q *taskQueue) snapshot() []*Task {
	cp := make(taskHeap, len(q.items))
	copy(cp, q.items)
	out := make([]*Task, 0, len(cp))
	for len(cp) > 0 {
		out = append(out, heap.Pop(&cp).(*Task))
	}
	return out
}

type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Action != h[j].Action {
		return h[i].Action < h[j].Action
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*Task)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
