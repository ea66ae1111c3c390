package config

import (
	"fmt"

	"github.com/BaSui01/caseflow/types"
)

// TaskSpec 单个任务类型的静态声明
// 依赖、超时等级与审批标记来自外部配置而非任务自身
type TaskSpec struct {
	// DependsOn 该任务依赖的前序任务类型
	DependsOn []types.TaskType `yaml:"depends_on"`
	// TimeoutClass 超时等级: fast, standard, heavy
	TimeoutClass types.TimeoutClass `yaml:"timeout_class"`
	// RequiresApproval 完成后是否需要人工签核
	RequiresApproval bool `yaml:"requires_approval"`
}

// TaskTable 任务依赖表：任务类型 → 声明
type TaskTable map[types.TaskType]TaskSpec

// DefaultTaskTable 返回标准分析任务集的依赖表
//
//	classification  （无依赖，fast）
//	key_facts       （无依赖，standard）
//	timeline        （无依赖，standard）
//	discrepancy     （无依赖，heavy）
//	risk            ← discrepancy（heavy，需审批）
//	summary         ← key_facts（standard）
func DefaultTaskTable() TaskTable {
	return TaskTable{
		types.TaskClassification: {TimeoutClass: types.TimeoutFast},
		types.TaskKeyFacts:       {TimeoutClass: types.TimeoutStandard},
		types.TaskTimeline:       {TimeoutClass: types.TimeoutStandard},
		types.TaskDiscrepancy:    {TimeoutClass: types.TimeoutHeavy},
		types.TaskRisk: {
			DependsOn:        []types.TaskType{types.TaskDiscrepancy},
			TimeoutClass:     types.TimeoutHeavy,
			RequiresApproval: true,
		},
		types.TaskSummary: {
			DependsOn:    []types.TaskType{types.TaskKeyFacts},
			TimeoutClass: types.TimeoutStandard,
		},
	}
}

// Validate 校验任务表自身的一致性
// 所有依赖必须指向表内已声明的任务类型；循环检测由计划展开阶段负责
func (t TaskTable) Validate() error {
	for taskType, spec := range t {
		for _, dep := range spec.DependsOn {
			if _, ok := t[dep]; !ok {
				return fmt.Errorf("task %q depends on unknown task %q", taskType, dep)
			}
		}
	}
	return nil
}

// Spec 返回任务类型的声明
func (t TaskTable) Spec(taskType types.TaskType) (TaskSpec, bool) {
	spec, ok := t[taskType]
	return spec, ok
}
