package cmmn

import (
	"fmt"

	"github.com/pbinitiative/zencmmn/pkg/cmmn/model/cmmn11"
	"github.com/pbinitiative/zencmmn/pkg/cmmn/runtime"
)

// onPartId resolves the identifier an on-part is tracked under. Modelers may
// omit ids on on-parts, in that case the position within the sentry is used.
func onPartId(sentry *cmmn11.TSentry, index int) string {
	if id := sentry.OnParts[index].Id; id != "" {
		return id
	}
	return fmt.Sprintf("%s-on-%d", sentry.Id, index)
}

// recordTransitionEvent arms the on-parts listening to the given transition
// of the source plan item instance by creating durable sentry part records.
// A record that already exists is never duplicated, so observing the same
// transition twice cannot double-arm a sentry.
func (ex *caseExecution) recordTransitionEvent(source *runtime.PlanItemInstance, transition runtime.PlanItemTransition) {
	stage := ex.stageDefinition(source)
	if stage == nil {
		return
	}
	scopeKey := source.StageInstanceKey
	for i := range stage.Sentries {
		sentry := &stage.Sentries[i]
		for j := range sentry.OnParts {
			onPart := &sentry.OnParts[j]
			if onPart.SourcePlanItemId != source.ElementId || onPart.StandardEvent != string(transition) {
				continue
			}
			partId := onPartId(sentry, j)
			if ex.findSentryPart(scopeKey, sentry.Id, partId) != nil {
				continue
			}
			part := &runtime.SentryPartInstance{
				Key:                 ex.engine.generateKey(),
				CaseDefinitionKey:   ex.caseInstance.Definition.Key,
				CaseInstanceKey:     ex.caseInstance.Key,
				PlanItemInstanceKey: scopeKey,
				SentryId:            sentry.Id,
				OnPartId:            partId,
				TimeStamp:           ex.engine.now(),
			}
			ex.sentryParts = append(ex.sentryParts, part)
			ex.newParts = append(ex.newParts, part)
			ex.adjustSentryPartCount(scopeKey, 1)
			ex.changed = true
		}
	}
}

func (ex *caseExecution) findSentryPart(scopeKey int64, sentryId string, onPartId string) *runtime.SentryPartInstance {
	for _, part := range ex.sentryParts {
		if part.PlanItemInstanceKey == scopeKey && part.SentryId == sentryId && part.OnPartId == onPartId {
			return part
		}
	}
	return nil
}

// isSentrySatisfied checks a sentry against the current arena state: every
// on-part must have an armed record, and the if-part, when present, must
// evaluate true against the variables visible to the target instance. The
// if-part result is never cached.
func (ex *caseExecution) isSentrySatisfied(sentry *cmmn11.TSentry, target *runtime.PlanItemInstance) (bool, error) {
	scopeKey := target.StageInstanceKey
	for i := range sentry.OnParts {
		if ex.findSentryPart(scopeKey, sentry.Id, onPartId(sentry, i)) == nil {
			return false, nil
		}
	}
	if sentry.IfPart != nil {
		variables, err := target.LocalScope.Variables()
		if err != nil {
			return false, err
		}
		ok, err := ex.engine.evaluateCondition(sentry.IfPart.Condition, variables)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// consumeSentry drops the armed records of a fired sentry. The next firing
// requires every on-part to be armed again.
func (ex *caseExecution) consumeSentry(sentry *cmmn11.TSentry, scopeKey int64) {
	kept := make([]*runtime.SentryPartInstance, 0, len(ex.sentryParts))
	for _, part := range ex.sentryParts {
		if part.PlanItemInstanceKey == scopeKey && part.SentryId == sentry.Id {
			ex.deletedParts = append(ex.deletedParts, part)
			ex.adjustSentryPartCount(scopeKey, -1)
			continue
		}
		kept = append(kept, part)
	}
	ex.sentryParts = kept
	ex.engine.metrics.SentriesFired.Add(ex.ctx, 1)
}

// clearSentryPartsForScope releases every armed record scoped to a stage
// instance that reached a terminal state.
func (ex *caseExecution) clearSentryPartsForScope(scopeKey int64) {
	kept := make([]*runtime.SentryPartInstance, 0, len(ex.sentryParts))
	for _, part := range ex.sentryParts {
		if part.PlanItemInstanceKey == scopeKey {
			ex.deletedParts = append(ex.deletedParts, part)
			ex.adjustSentryPartCount(scopeKey, -1)
			continue
		}
		kept = append(kept, part)
	}
	ex.sentryParts = kept
}

// entrySatisfied returns the first satisfied entry criterion of the plan
// item. Multiple entry criteria are alternatives; any one of them firing
// lets the item proceed.
func (ex *caseExecution) entrySatisfied(p *runtime.PlanItemInstance, item *cmmn11.TPlanItem) (*cmmn11.TSentry, bool, error) {
	return ex.firstSatisfied(p, item.EntryCriteria)
}

func (ex *caseExecution) exitSatisfied(p *runtime.PlanItemInstance, item *cmmn11.TPlanItem) (*cmmn11.TSentry, bool, error) {
	return ex.firstSatisfied(p, item.ExitCriteria)
}

func (ex *caseExecution) firstSatisfied(p *runtime.PlanItemInstance, criteria []string) (*cmmn11.TSentry, bool, error) {
	stage := ex.stageDefinition(p)
	if stage == nil {
		return nil, false, newEngineErrorf("no stage definition found for plan item instance %d (%s)", p.Key, p.ElementId)
	}
	for _, sentry := range stage.FindSentries(criteria) {
		satisfied, err := ex.isSentrySatisfied(sentry, p)
		if err != nil {
			return nil, false, err
		}
		if satisfied {
			return sentry, true, nil
		}
	}
	return nil, false, nil
}
