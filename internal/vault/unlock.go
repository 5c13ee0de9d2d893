package vault

import (
	"github.com/holiman/uint256"
)

// unlockSchedule releases reported gains into total assets linearly over
// duration seconds. locked is the still-locked amount as of lastUpdate and it
// decays to zero at fullUnlock.
type unlockSchedule struct {
	duration   uint64
	locked     uint256.Int
	lastUpdate uint64
	fullUnlock uint64
}

// stillLocked returns the portion of locked profit not yet released at now.
func (u unlockSchedule) stillLocked(now uint64) uint256.Int {
	if u.locked.IsZero() || now >= u.fullUnlock {
		return uint256.Int{}
	}
	if now <= u.lastUpdate {
		return u.locked
	}
	span := u.fullUnlock - u.lastUpdate
	remaining, _ := mulDiv(u.locked, fromUint64(u.fullUnlock-now), fromUint64(span))
	return remaining
}

// lockGain folds gain into whatever is still locked and restarts the linear
// release from now.
func (u *unlockSchedule) lockGain(now uint64, gain uint256.Int) {
	pending := add(u.stillLocked(now), gain)
	if u.duration == 0 {
		u.release(now)
		return
	}
	u.locked = pending
	u.lastUpdate = now
	u.fullUnlock = now + u.duration
}

// capAt bounds the locked amount by the vault's raw holdings so that a loss or
// a payout can never push total assets below zero. The schedule is re-anchored
// at now whenever the recorded amount exceeds raw, so locked <= raw holds
// between operations.
func (u *unlockSchedule) capAt(now uint64, raw uint256.Int) {
	if !u.locked.Gt(&raw) {
		return
	}
	still := u.stillLocked(now)
	if raw.IsZero() || still.IsZero() {
		u.release(now)
		return
	}
	if still.Gt(&raw) {
		still = raw
	}
	u.locked = still
	if now > u.lastUpdate {
		u.lastUpdate = now
	}
}

// release drops all locked profit immediately.
func (u *unlockSchedule) release(now uint64) {
	u.locked = uint256.Int{}
	u.lastUpdate = now
	u.fullUnlock = now
}

// setDuration changes the release window for future gains. A zero window
// releases everything currently locked.
func (u *unlockSchedule) setDuration(now, seconds uint64) {
	u.duration = seconds
	if seconds == 0 {
		u.release(now)
	}
}
