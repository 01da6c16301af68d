package model

// Traverse 遍历回调的控制指令
type Traverse int

const (
	//TraverseContinue 继续向下遍历
	TraverseContinue Traverse = iota
	//TraverseSkip 跳过当前节点的子节点
	TraverseSkip
	//TraverseBreak 整体终止遍历
	TraverseBreak
)

// Visitor 模型遍历器，回调为nil时视为Continue
type Visitor struct {
	OnStage     func(stage *Stage) Traverse
	OnContainer func(seq int, container *Container, stage *Stage) Traverse
	OnElement   func(element *Element, container *Container) Traverse
}

// Walk 按运行期口径遍历模型：跳过触发Stage，Job序号从1起全局递增。
// 任意回调返回Break则立即终止整个遍历
func Walk(m *Model, v Visitor) {
	seq := 0
	for i, stage := range m.Stages {
		if i == 0 {
			//触发Stage不参与运行期遍历，但Job序号要占位
			seq += len(stage.Containers)
			continue
		}
		if v.OnStage != nil {
			switch v.OnStage(stage) {
			case TraverseBreak:
				return
			case TraverseSkip:
				seq += len(stage.Containers)
				continue
			}
		}
		for _, container := range stage.Containers {
			seq++
			if v.OnContainer != nil {
				switch v.OnContainer(seq, container, stage) {
				case TraverseBreak:
					return
				case TraverseSkip:
					continue
				}
			}
			for _, element := range container.Elements {
				if v.OnElement != nil && v.OnElement(element, container) == TraverseBreak {
					return
				}
			}
		}
	}
}
