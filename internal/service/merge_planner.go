package service

import (
	"github.com/Ape-Alive/StoryX-sub001/internal/model"
)

// DefaultToleranceSec 合并分组的默认时长容差（秒）
const DefaultToleranceSec = 5.0

// ShotGroup 一组连续镜头，作为一个合并片段生成
type ShotGroup struct {
	Shots    []model.Shot
	Duration float64
	// 最终时长落在 [max-tol, max+tol] 之外时置位，组仍然产出，由调用方决断
	OutOfTolerance bool
}

// PlanShotGroups 把有序镜头序列切成连续分组，使每组时长尽量贴合 maxDuration
//
// 顺序扫描，不重排镜头：只要加入下一个镜头不超过 max+tol 就继续累加；
// 当前组时长已进入容差窗口后，加入下一个镜头的超出量比就此收束的不足量更大时收组
// （平手规则：当前时长 ≥ max 直接收组，否则继续扩展）。
// 单个镜头超过 max+tol 时独立成组，镜头不可切分。
func PlanShotGroups(shots []model.Shot, maxDuration, toleranceSec float64) []ShotGroup {
	if len(shots) == 0 {
		return []ShotGroup{}
	}
	if toleranceSec <= 0 {
		toleranceSec = DefaultToleranceSec
	}

	ceiling := maxDuration + toleranceSec
	floor := maxDuration - toleranceSec

	groups := make([]ShotGroup, 0)
	var cur []model.Shot
	var curDur float64

	closeGroup := func() {
		if len(cur) == 0 {
			return
		}
		groups = append(groups, ShotGroup{
			Shots:          cur,
			Duration:       curDur,
			OutOfTolerance: curDur < floor || curDur > ceiling,
		})
		cur = nil
		curDur = 0
	}

	for _, shot := range shots {
		if len(cur) == 0 {
			cur = append(cur, shot)
			curDur = shot.Duration
			continue
		}

		next := curDur + shot.Duration
		if next > ceiling {
			closeGroup()
			cur = append(cur, shot)
			curDur = shot.Duration
			continue
		}

		// 已经在容差窗口内：比较「再加一个的超出量」与「就此打住的不足量」
		if curDur >= floor {
			overshoot := next - maxDuration
			undershoot := maxDuration - curDur
			if curDur >= maxDuration || overshoot > undershoot {
				closeGroup()
				cur = append(cur, shot)
				curDur = shot.Duration
				continue
			}
		}

		cur = append(cur, shot)
		curDur = next
	}
	closeGroup()

	return groups
}
