package service

import (
	"log"
	"time"

	"github.com/Ape-Alive/StoryX-sub001/internal/model"
)

// expiredFailer 按种类与租约时长回收僵死的生成任务
type expiredFailer interface {
	FailExpired(kind model.TaskKind, lease time.Duration) (int64, error)
}

// expiredScriptFailer 回收僵死的结构化任务
type expiredScriptFailer interface {
	FailExpiredTasks(lease time.Duration) (int64, error)
}

// RecoveryService 周期性把超过租约仍在 processing 的任务置为失败。
// 进程崩溃或强杀后任务会停在 processing，没有人再推进它；
// 租约到期判失败后，调用方可以对同一实体重新发起生成
type RecoveryService struct {
	tasks     expiredFailer
	scripts   expiredScriptFailer
	lease     time.Duration
	longLease time.Duration // 视频类任务耗时更长，租约单独放宽
	interval  time.Duration
	stop      chan struct{}
	done      chan struct{}
}

// NewRecoveryService 创建任务回收服务
func NewRecoveryService(tasks expiredFailer, scripts expiredScriptFailer, lease, longLease time.Duration) *RecoveryService {
	return &RecoveryService{
		tasks:     tasks,
		scripts:   scripts,
		lease:     lease,
		longLease: longLease,
		interval:  5 * time.Minute,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start 启动后台回收循环，启动时先立即跑一轮，清掉上次进程留下的僵死任务
func (s *RecoveryService) Start() {
	go func() {
		defer close(s.done)
		log.Printf("[RecoveryService] 启动，租约 %s / 视频 %s，每 %s 扫描一次", s.lease, s.longLease, s.interval)
		s.sweep()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stop:
				log.Println("[RecoveryService] 停止")
				return
			}
		}
	}()
}

// Stop 停止回收循环并等待当前一轮结束
func (s *RecoveryService) Stop() {
	close(s.stop)
	<-s.done
}

func (s *RecoveryService) sweep() {
	leases := map[model.TaskKind]time.Duration{
		model.TaskKindCharacterDraw: s.lease,
		model.TaskKindSceneImage:    s.lease,
		model.TaskKindShotVideo:     s.longLease,
		model.TaskKindDialogueAudio: s.lease,
	}
	var total int64
	for kind, lease := range leases {
		n, err := s.tasks.FailExpired(kind, lease)
		if err != nil {
			log.Printf("[RecoveryService] 回收 %s 任务失败: %v", kind, err)
			continue
		}
		total += n
	}
	if s.scripts != nil {
		n, err := s.scripts.FailExpiredTasks(s.longLease)
		if err != nil {
			log.Printf("[RecoveryService] 回收结构化任务失败: %v", err)
		} else {
			total += n
		}
	}
	if total > 0 {
		log.Printf("[RecoveryService] 本轮回收 %d 个过期任务", total)
	}
}
