package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DefaultConcurrency 调用方未指定时的并发上限
const DefaultConcurrency = 3

// UnitOfWork 一个独立的工作单元，产出一条任务结果
// Run 内部自己负责持久化任务记录的状态变更
type UnitOfWork struct {
	TaskID string
	Run    func(ctx context.Context) error
}

// UnitResult 工作单元的执行结果
type UnitResult struct {
	TaskID string
	Err    error
}

// Dispatcher 并发受限的批量执行器
// 单元失败只记入自己的结果，不会取消兄弟单元、不会中断整批；
// 异步派发的批次登记到 WaitGroup，关停时统一排空
type Dispatcher struct {
	wg      sync.WaitGroup
	limiter *rate.Limiter
}

// NewDispatcher 创建执行器
// interval > 0 时对单元启动做流量限制（对外部供应商限流），0 表示不限流
func NewDispatcher(interval time.Duration) *Dispatcher {
	d := &Dispatcher{}
	if interval > 0 {
		// Burst 2：启动瞬间允许两个单元同时放行
		d.limiter = rate.NewLimiter(rate.Every(interval), 2)
	}
	return d
}

// Run 同步执行全部单元，至多 concurrency 个并发，全部终结后返回
// 结果按提交顺序排列，完成顺序不保证
func (d *Dispatcher) Run(ctx context.Context, units []UnitOfWork, concurrency int) []UnitResult {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	results := make([]UnitResult, len(units))
	var eg errgroup.Group
	eg.SetLimit(concurrency)

	for i, unit := range units {
		i, unit := i, unit
		eg.Go(func() error {
			results[i] = UnitResult{TaskID: unit.TaskID, Err: d.runUnit(ctx, unit)}
			// 失败不向 errgroup 传播，避免影响兄弟单元
			return nil
		})
	}
	_ = eg.Wait()
	return results
}

// Dispatch 异步执行整批单元（fire-and-forget），立即返回
// 批次被进程监督：Drain 会等待所有在途批次终结
func (d *Dispatcher) Dispatch(ctx context.Context, units []UnitOfWork, concurrency int) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		results := d.Run(ctx, units, concurrency)
		failed := 0
		for _, res := range results {
			if res.Err != nil {
				failed++
			}
		}
		if failed > 0 {
			log.Printf("[Dispatcher] 批次完成: %d 个单元, %d 个失败", len(results), failed)
		}
	}()
}

// Drain 等待全部在途批次终结，超时返回 false（接受在途丢失）
func (d *Dispatcher) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (d *Dispatcher) runUnit(ctx context.Context, unit UnitOfWork) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("工作单元 panic: %v", r)
		}
	}()
	if d.limiter != nil {
		if waitErr := d.limiter.Wait(ctx); waitErr != nil {
			return waitErr
		}
	}
	return unit.Run(ctx)
}
