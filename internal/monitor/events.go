package monitor

import "fmt"

// event is the `<sign><type>` identifier spec.md §6 requires every
// significant state change to emit. sign is carried separately so the
// same type constant works for both +foo and -foo.
type event string

const (
	eventSDown             event = "sdown"
	eventODown             event = "odown"
	eventTilt              event = "tilt"
	eventNewEpoch          event = "new-epoch"
	eventVoteForLeader     event = "vote-for-leader"
	eventElectedLeader     event = "elected-leader"
	eventTryFailover       event = "try-failover"
	eventFailoverState     event = "failover-state-change"
	eventPromotedSlave     event = "promoted-slave"
	eventSlaveReconfSent   event = "slave-reconf-sent"
	eventSlaveReconfInprog event = "slave-reconf-inprog"
	eventSlaveReconfDone   event = "slave-reconf-done"
	eventFailoverEnd       event = "failover-end"
	eventFailoverEndTO     event = "failover-end-for-timeout"
	eventFailoverAbort     event = "failover-abort"
	eventSwitchMaster      event = "switch-master"
	eventResetMaster       event = "reset-master"
	eventSentinel          event = "sentinel"
	eventDupSentinel       event = "dup-sentinel"
	eventReboot            event = "reboot"
	eventSlave             event = "slave"
	eventFixSlaveConfig    event = "fix-slave-config"
	eventConvertToSlave    event = "convert-to-slave"
	eventScriptError       event = "script-error"
	eventScriptTimeout     event = "script-timeout"
	eventScriptChild       event = "script-child"
)

// emitLocked logs a state change and, when it is WARNING-level and
// targets a specific primary, enqueues the notification script for
// that primary (spec.md §4.7, §6). Must be called with sv.mu held.
func (sv *Supervisor) emitLocked(sign event, primary *Instance, warning bool, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	entry := logf().WithField("event", string(sign))
	if primary != nil {
		entry = entry.WithField("primary", primary.Name)
	}
	if warning {
		entry.Warn(msg)
	} else {
		entry.Info(msg)
	}
	if warning && primary != nil && primary.NotificationScript != "" {
		sv.scripts.enqueueNotification(primary.NotificationScript, string(sign), msg)
	}
}

// emitPlusLocked and emitMinusLocked are thin wrappers that make call
// sites read the way the spec prose does (+sdown / -sdown).
func (sv *Supervisor) emitPlusLocked(sign event, primary *Instance, warning bool, format string, args ...interface{}) {
	sv.emitLocked(sign, primary, warning, "+"+string(sign)+" "+format, args...)
}

func (sv *Supervisor) emitMinusLocked(sign event, primary *Instance, warning bool, format string, args ...interface{}) {
	sv.emitLocked(sign, primary, warning, "-"+string(sign)+" "+format, args...)
}
