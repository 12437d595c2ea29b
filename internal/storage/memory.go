package storage

import (
	"context"
	"errors"
	"sync"

	"crypto-strategy-engine/internal/engine"
	"crypto-strategy-engine/internal/model"
)

var ErrBatchClosed = errors.New("batch already committed or rolled back")

// MemoryRecorder 进程内存储，未配置 MySQL 时使用
type MemoryRecorder struct {
	mu        sync.RWMutex
	fills     map[string][]model.Fill
	equity    map[string][]model.EquityPoint
	snapshots []model.Snapshot
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{
		fills:  make(map[string][]model.Fill),
		equity: make(map[string][]model.EquityPoint),
	}
}

func (m *MemoryRecorder) Begin(_ context.Context) (engine.Batch, error) {
	return &memoryBatch{rec: m, fills: make(map[string][]model.Fill), equity: make(map[string][]model.EquityPoint)}, nil
}

func (m *MemoryRecorder) Fills(instance string) []model.Fill {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.Fill(nil), m.fills[instance]...)
}

func (m *MemoryRecorder) Equity(instance string) []model.EquityPoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.EquityPoint(nil), m.equity[instance]...)
}

func (m *MemoryRecorder) Snapshots() []model.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.Snapshot(nil), m.snapshots...)
}

type memoryBatch struct {
	rec       *MemoryRecorder
	fills     map[string][]model.Fill
	equity    map[string][]model.EquityPoint
	snapshots []model.Snapshot
	done      bool
}

func (b *memoryBatch) AddFill(instance string, fill model.Fill) error {
	if b.done {
		return ErrBatchClosed
	}
	b.fills[instance] = append(b.fills[instance], fill)
	return nil
}

func (b *memoryBatch) AddEquity(instance string, point model.EquityPoint) error {
	if b.done {
		return ErrBatchClosed
	}
	b.equity[instance] = append(b.equity[instance], point)
	return nil
}

func (b *memoryBatch) AddSnapshot(snap model.Snapshot) error {
	if b.done {
		return ErrBatchClosed
	}
	b.snapshots = append(b.snapshots, snap)
	return nil
}

func (b *memoryBatch) Commit() error {
	if b.done {
		return ErrBatchClosed
	}
	b.done = true

	b.rec.mu.Lock()
	defer b.rec.mu.Unlock()
	for name, fills := range b.fills {
		b.rec.fills[name] = append(b.rec.fills[name], fills...)
	}
	for name, points := range b.equity {
		b.rec.equity[name] = append(b.rec.equity[name], points...)
	}
	b.rec.snapshots = append(b.rec.snapshots, b.snapshots...)
	return nil
}

func (b *memoryBatch) Rollback() error {
	if b.done {
		return ErrBatchClosed
	}
	b.done = true
	return nil
}
