package pipeline

import (
	"context"

	"github.com/Waconiajohn/resume-agent-sub002/pkg/agent"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/bus"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/config"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/events"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/llm"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/models"
)

// Agent names used for bus addressing.
const (
	agentStrategist = "strategist"
	agentCraftsman  = "craftsman"
	agentProducer   = "producer"
)

// Emitter pushes one event onto the session's stream.
type Emitter func(events.Event)

// WaitFunc suspends until the user answers the named gate.
type WaitFunc func(ctx context.Context, gateName string) (any, error)

// Runner drives one agent to completion from an initial conversation.
// *agent.Loop satisfies it; tests substitute scripted runners.
type Runner interface {
	Run(ctx context.Context, initial []llm.Message) (*agent.Result, error)
}

// Agents is the trio of runners a single pipeline run drives.
type Agents struct {
	Strategist Runner
	Craftsman  Runner
	Producer   Runner
}

// AgentFactory builds the run's agents over its runtime.
type AgentFactory func(rt *Runtime) Agents

// Runtime is the per-run wiring handed to agent tools and the revision
// handler: the shared state, the event emitter, the gate waiter, and the
// usage-recording model client.
type Runtime struct {
	State    *models.PipelineState
	Emit     Emitter
	Bus      *bus.Bus
	Wait     WaitFunc
	Client   llm.Client
	Pipeline *config.PipelineConfig
	LLM      *config.LLMConfig
}

const strategistSystem = `You are the Strategist. Analyze the candidate's resume against the target role.
Work through intake, positioning, research, and gap analysis, then produce the blueprint.
Persist each result with its save tool as soon as it is ready. Use ask_user when you need input.
Finish with a short summary of your strategy once save_blueprint has succeeded.`

const craftsmanSystem = `You are the Craftsman. Write each resume section the blueprint calls for with write_section.
Ground every claim in the supplied evidence, weave in the keyword map naturally, and follow the global rules.
Sections are independent; write them in any order. Finish with a one-line note when all sections are written.`

const producerSystem = `You are the Producer. Review the assembled draft for hiring-manager impact, ATS fit, and narrative coherence.
Request targeted fixes with request_revision, then re-check. Record your verdict with submit_quality_review;
approve only when the draft is ready to ship.`

// NewLoopAgents is the production AgentFactory: each agent is a tool-calling
// loop on its configured model tier.
func NewLoopAgents(rt *Runtime) Agents {
	return Agents{
		Strategist: agent.NewLoop(rt.Client, strategistRegistry(rt), agent.Config{
			Name:         agentStrategist,
			Tier:         llm.TierPrimary,
			System:       strategistSystem,
			MaxRounds:    rt.Pipeline.StrategistMaxRounds,
			RoundTimeout: rt.Pipeline.RoundTimeout,
			MaxTokens:    rt.LLM.MaxTokens,
		}),
		Craftsman: agent.NewLoop(rt.Client, craftsmanRegistry(rt), agent.Config{
			Name:         agentCraftsman,
			Tier:         llm.TierMid,
			System:       craftsmanSystem,
			MaxRounds:    rt.Pipeline.CraftsmanMaxRounds,
			RoundTimeout: rt.Pipeline.RoundTimeout,
			MaxTokens:    rt.LLM.MaxTokens,
		}),
		Producer: agent.NewLoop(rt.Client, producerRegistry(rt), agent.Config{
			Name:         agentProducer,
			Tier:         llm.TierPrimary,
			System:       producerSystem,
			MaxRounds:    rt.Pipeline.ProducerMaxRounds,
			RoundTimeout: rt.Pipeline.RoundTimeout,
			MaxTokens:    rt.LLM.MaxTokens,
		}),
	}
}
