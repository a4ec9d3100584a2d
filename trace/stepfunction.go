package trace

import (
	"encoding/json"

	"github.com/aws/aws-sdk-go/aws/arn"
	log "github.com/sirupsen/logrus"
)

// StepFunctionContext describes the workflow execution and state an
// invocation runs under. Every field except ExecutionInput must be present
// and correctly typed in the source event; the read is all-or-nothing.
type StepFunctionContext struct {
	ExecutionID        string      `json:"step_function.execution_id"`
	ExecutionInput     interface{} `json:"step_function.execution_input"`
	ExecutionName      string      `json:"step_function.execution_name"`
	ExecutionRoleArn   string      `json:"step_function.execution_role_arn"`
	ExecutionStartTime string      `json:"step_function.execution_start_time"`
	StateEnteredTime   string      `json:"step_function.state_entered_time"`
	StateMachineID     string      `json:"step_function.state_machine_id"`
	StateMachineName   string      `json:"step_function.state_machine_name"`
	StateName          string      `json:"step_function.state_name"`
	StateRetryCount    float64     `json:"step_function.state_retry_count"`
}

type stepFunctionEvent struct {
	Execution    map[string]interface{} `json:"Execution"`
	State        map[string]interface{} `json:"State"`
	StateMachine map[string]interface{} `json:"StateMachine"`
}

// ReadStepFunctionContext extracts workflow metadata from a Step Functions
// state input. It returns nil unless every required field is present with
// the right type; there are no partial results. This runs independently of
// trace extraction since an invocation can be both a workflow step and a
// traced request.
func ReadStepFunctionContext(event json.RawMessage) *StepFunctionContext {
	var ev stepFunctionEvent
	if err := json.Unmarshal(event, &ev); err != nil {
		return nil
	}
	if ev.Execution == nil || ev.State == nil || ev.StateMachine == nil {
		return nil
	}

	sc := StepFunctionContext{ExecutionInput: map[string]interface{}{}}
	var ok bool
	if sc.ExecutionID, ok = stringField(ev.Execution, "Id", "Execution"); !ok {
		return nil
	}
	if sc.ExecutionName, ok = stringField(ev.Execution, "Name", "Execution"); !ok {
		return nil
	}
	if sc.ExecutionRoleArn, ok = stringField(ev.Execution, "RoleArn", "Execution"); !ok {
		return nil
	}
	if sc.ExecutionStartTime, ok = stringField(ev.Execution, "StartTime", "Execution"); !ok {
		return nil
	}
	if sc.StateName, ok = stringField(ev.State, "Name", "State"); !ok {
		return nil
	}
	if sc.StateEnteredTime, ok = stringField(ev.State, "EnteredTime", "State"); !ok {
		return nil
	}
	if sc.StateRetryCount, ok = ev.State["RetryCount"].(float64); !ok {
		log.Debug("Step function State.RetryCount is missing or not a number")
		return nil
	}
	if sc.StateMachineID, ok = stringField(ev.StateMachine, "Id", "StateMachine"); !ok {
		return nil
	}
	if sc.StateMachineName, ok = stringField(ev.StateMachine, "Name", "StateMachine"); !ok {
		return nil
	}
	if input, present := ev.Execution["Input"]; present {
		sc.ExecutionInput = input
	}

	if parsed, err := arn.Parse(sc.StateMachineID); err == nil {
		log.WithField("stateMachine", parsed.Resource).Debug("Invocation is a step function state")
	}
	return &sc
}

func stringField(object map[string]interface{}, key, where string) (string, bool) {
	value, ok := object[key].(string)
	if !ok {
		log.Debugf("Step function %s.%s is missing or not a string", where, key)
	}
	return value, ok
}
