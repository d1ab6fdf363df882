package agent

// DifficultyPolicy 定义难度升降与挣扎计数的调整规则。
//
// 原型阶段存在两种分歧做法（答对时计数递减 vs 清零；只在
// beginner/intermediate 之间切换 vs 多级切换），这里统一采用：
//   - 答对或表现出理解时 StruggleCount 清零；
//   - 清零前计数非零的，难度上调一级（恢复即晋级）；
//   - 答错时计数加一，达到 DemoteAfter 且当前高于 beginner 时难度下调一级，
//     下调后计数清零重新累计。
//
// 阈值是配置项而不是隐藏常量，调用方通过 config 注入。
type DifficultyPolicy struct {
	// DemoteAfter 连续答错多少次后降级，<=0 时取 DefaultDemoteAfter
	DemoteAfter int

	// PromoteOnRecovery 为 true 时，计数从非零回到零触发晋级
	PromoteOnRecovery bool
}

const DefaultDemoteAfter = 3

// DefaultDifficultyPolicy 返回默认规则
func DefaultDifficultyPolicy() DifficultyPolicy {
	return DifficultyPolicy{
		DemoteAfter:       DefaultDemoteAfter,
		PromoteOnRecovery: true,
	}
}

func (p DifficultyPolicy) demoteAfter() int {
	if p.DemoteAfter <= 0 {
		return DefaultDemoteAfter
	}
	return p.DemoteAfter
}

// RecordCorrect 处理一次答对（或表现出理解）后的状态变化
func (p DifficultyPolicy) RecordCorrect(level DifficultyLevel, struggle int) (DifficultyLevel, int) {
	if p.PromoteOnRecovery && struggle > 0 {
		level = promote(level)
	}
	return level, 0
}

// RecordIncorrect 处理一次答错后的状态变化
func (p DifficultyPolicy) RecordIncorrect(level DifficultyLevel, struggle int) (DifficultyLevel, int) {
	struggle++
	if struggle >= p.demoteAfter() && level != DifficultyBeginner {
		return demote(level), 0
	}
	return level, struggle
}

func promote(level DifficultyLevel) DifficultyLevel {
	switch level {
	case DifficultyBeginner:
		return DifficultyIntermediate
	case DifficultyIntermediate:
		return DifficultyAdvanced
	default:
		return level
	}
}

func demote(level DifficultyLevel) DifficultyLevel {
	switch level {
	case DifficultyAdvanced:
		return DifficultyIntermediate
	case DifficultyIntermediate:
		return DifficultyBeginner
	default:
		return level
	}
}
