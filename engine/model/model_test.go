package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chenyingqiao/pipeline-engine/engine"
)

func buildModel() *Model {
	return &Model{
		Name: "demo",
		Stages: []*Stage{
			{
				ID: "stage-trigger",
				Containers: []*Container{
					{Kind: ContainerTrigger, ID: "0", Elements: []*Element{
						{Kind: ElementManualTrigger, ID: "T-1"},
					}},
				},
			},
			{
				ID: "stage-1",
				Containers: []*Container{
					{Kind: ContainerVMBuild, ID: "c1", Elements: []*Element{
						{Kind: ElementNormal, ID: "e1"},
						{Kind: ElementNormal, ID: "e2"},
					}},
					{Kind: ContainerNormal, ID: "c2", Elements: []*Element{
						{Kind: ElementNormal, ID: "e3"},
					}},
				},
			},
			{
				ID: "stage-2",
				Containers: []*Container{
					{Kind: ContainerNormal, ID: "c3", Elements: []*Element{
						{Kind: ElementNormal, ID: "e4"},
					}},
				},
			},
		},
	}
}

func TestWalk_SkipsTriggerStage(t *testing.T) {
	m := buildModel()
	var stages []string
	var elements []string
	Walk(m, Visitor{
		OnStage: func(s *Stage) Traverse {
			stages = append(stages, s.ID)
			return TraverseContinue
		},
		OnElement: func(e *Element, c *Container) Traverse {
			elements = append(elements, e.ID)
			return TraverseContinue
		},
	})
	assert.Equal(t, []string{"stage-1", "stage-2"}, stages)
	assert.Equal(t, []string{"e1", "e2", "e3", "e4"}, elements)
}

func TestWalk_ContainerSeqCountsTriggerContainers(t *testing.T) {
	m := buildModel()
	seqs := map[string]int{}
	Walk(m, Visitor{
		OnContainer: func(seq int, c *Container, s *Stage) Traverse {
			seqs[c.ID] = seq
			return TraverseContinue
		},
	})
	// 触发Job占掉1号位
	assert.Equal(t, 2, seqs["c1"])
	assert.Equal(t, 3, seqs["c2"])
	assert.Equal(t, 4, seqs["c3"])
}

func TestWalk_BreakStopsEverything(t *testing.T) {
	m := buildModel()
	var visited []string
	Walk(m, Visitor{
		OnElement: func(e *Element, c *Container) Traverse {
			visited = append(visited, e.ID)
			if e.ID == "e2" {
				return TraverseBreak
			}
			return TraverseContinue
		},
	})
	assert.Equal(t, []string{"e1", "e2"}, visited)
}

func TestWalk_SkipContainerSkipsElements(t *testing.T) {
	m := buildModel()
	var visited []string
	Walk(m, Visitor{
		OnContainer: func(seq int, c *Container, s *Stage) Traverse {
			if c.ID == "c1" {
				return TraverseSkip
			}
			return TraverseContinue
		},
		OnElement: func(e *Element, c *Container) Traverse {
			visited = append(visited, e.ID)
			return TraverseContinue
		},
	})
	assert.Equal(t, []string{"e3", "e4"}, visited)
}

func TestRefreshCanRetry_VMContainerFollowsRetryFlag(t *testing.T) {
	m := &Model{Stages: []*Stage{
		{Containers: []*Container{
			{Kind: ContainerVMBuild, Elements: []*Element{{ID: "e1"}}},
		}},
	}}
	RefreshCanRetry(m, true, engine.StatusFailed)
	c := m.Stages[0].Containers[0]
	require.NotNil(t, c.CanRetry)
	assert.True(t, *c.CanRetry)
	require.NotNil(t, c.Elements[0].CanRetry)
	assert.True(t, *c.Elements[0].CanRetry)

	m2 := &Model{Stages: []*Stage{
		{Containers: []*Container{
			{Kind: ContainerVMBuild, Elements: []*Element{{ID: "e1"}}},
		}},
	}}
	RefreshCanRetry(m2, false, engine.StatusFailed)
	assert.False(t, *m2.Stages[0].Containers[0].Elements[0].CanRetry)
}

func TestRefreshCanRetry_NormalContainerFollowsBuildStatus(t *testing.T) {
	m := &Model{Stages: []*Stage{
		{Containers: []*Container{
			{Kind: ContainerNormal, Elements: []*Element{{ID: "e1"}}},
		}},
	}}
	RefreshCanRetry(m, true, engine.StatusSucceed)
	require.NotNil(t, m.Stages[0].Containers[0].Elements[0].CanRetry)
	assert.False(t, *m.Stages[0].Containers[0].Elements[0].CanRetry)

	m2 := &Model{Stages: []*Stage{
		{Containers: []*Container{
			{Kind: ContainerNormal, Elements: []*Element{{ID: "e1"}}},
		}},
	}}
	RefreshCanRetry(m2, true, engine.StatusFailed)
	assert.True(t, *m2.Stages[0].Containers[0].Elements[0].CanRetry)
}

func TestRefreshCanRetry_KeepsExistingMark(t *testing.T) {
	keep := true
	m := &Model{Stages: []*Stage{
		{Containers: []*Container{
			{Kind: ContainerNormal, Elements: []*Element{{ID: "e1", CanRetry: &keep}}},
		}},
	}}
	RefreshCanRetry(m, false, engine.StatusSucceed)
	assert.True(t, *m.Stages[0].Containers[0].Elements[0].CanRetry)
}

func TestRefreshCanRetry_ContinueWhenFailedNotRetryable(t *testing.T) {
	m := &Model{Stages: []*Stage{
		{Containers: []*Container{
			{Kind: ContainerVMBuild, Elements: []*Element{
				{ID: "e1", AdditionalOptions: &ElementAdditionalOptions{Enable: true, ContinueWhenFailed: true}},
			}},
		}},
	}}
	RefreshCanRetry(m, true, engine.StatusFailed)
	assert.False(t, *m.Stages[0].Containers[0].Elements[0].CanRetry)
}

func TestRefreshCanRetry_PreTaskFailedDisablesPriorFails(t *testing.T) {
	m := &Model{Stages: []*Stage{
		{Containers: []*Container{
			{Kind: ContainerVMBuild, Elements: []*Element{
				{ID: "e1"},
				{ID: "e2", AdditionalOptions: &ElementAdditionalOptions{Enable: true, RunCondition: RunPreTaskFailedOnly}},
			}},
		}},
	}}
	RefreshCanRetry(m, true, engine.StatusFailed)
	assert.False(t, *m.Stages[0].Containers[0].Elements[0].CanRetry)
	assert.False(t, *m.Stages[0].Containers[0].Elements[1].CanRetry)
}

func TestInitContainer_FillsDefaults(t *testing.T) {
	c := &Container{Kind: ContainerVMBuild, MaxRunningMinutes: 120}
	InitContainer(c)
	require.NotNil(t, c.JobControlOption)
	assert.True(t, c.JobControlOption.Enable)
	assert.Equal(t, 120, c.JobControlOption.Timeout)
	assert.Equal(t, JobRunOnStageRunning, c.JobControlOption.RunCondition)
}

func TestElementIsEnable(t *testing.T) {
	e := &Element{}
	assert.True(t, e.IsEnable())
	e.AdditionalOptions = &ElementAdditionalOptions{Enable: false}
	assert.False(t, e.IsEnable())
}
