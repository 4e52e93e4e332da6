package core

// Timer frequencies for common MCUs
const (
	TimerFreq = 12000000 // 12MHz default timer frequency

	// HousekeepingHz is the rate of the planner housekeeping tick
	HousekeepingHz = 1000
)

var (
	systemTicks uint32
	bootTime    uint32
)

// GetTime returns the current system time in timer ticks
func GetTime() uint32 {
	return getSystemTicks()
}

// SetTime sets the current system time (for testing/hardware integration)
func SetTime(ticks uint32) {
	setSystemTicks(ticks)
}

// GetUptime returns ticks elapsed since TimerInit
func GetUptime() uint32 {
	return GetTime() - bootTime
}

// TimerFromUS converts microseconds to timer ticks
func TimerFromUS(us uint32) uint32 {
	return uint32(uint64(us) * TimerFreq / 1000000)
}

// TimerToUS converts timer ticks to microseconds
func TimerToUS(ticks uint32) uint32 {
	return uint32(uint64(ticks) * 1000000 / TimerFreq)
}

// TimerInit initializes the system timer
func TimerInit() {
	bootTime = GetTime()
}

// ProcessTimers processes scheduled timers
func ProcessTimers() {
	currentTime = GetTime()
	TimerDispatch()
}

// AdvanceTime moves the simulated clock forward and runs every timer that
// became due, in wake-time order. Hosted builds use it in place of a
// hardware timer interrupt.
func AdvanceTime(ticks uint32) {
	target := GetTime() + ticks
	for {
		next, ok := NextWakeTime()
		if !ok || timerIsBefore(target, next) {
			break
		}
		SetTime(next)
		ProcessTimers()
	}
	SetTime(target)
	currentTime = target
}
