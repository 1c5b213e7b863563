package stepper

// Interrupt is the timer handler. Without linear advance it is the main
// step tick. With advance it arbitrates between the main and advance ticks:
// whichever is due runs, the timer is programmed for the sooner of the two
// and the other is moved closer by the elapsed time.
//
// Interrupt must not run concurrently with itself; reactors dispatch it
// under the engine's irq.Controller.
func (e *Engine) Interrupt() uint32 {
	if !e.cfg.LinearAdvance {
		return e.mainTick()
	}

	if e.nextMain == 0 {
		e.nextMain = e.mainTick()
		if e.nextAdv == AdvNever && e.adv.busy() {
			e.nextAdv = e.adv.rate
		}
	}
	if e.nextAdv == 0 {
		e.nextAdv = e.advanceTick()
	}

	var reload uint32
	if e.nextAdv <= e.nextMain {
		reload = e.nextAdv
		e.nextMain -= reload
		e.nextAdv = 0
	} else {
		reload = e.nextMain
		if e.nextAdv != AdvNever {
			e.nextAdv -= reload
		}
		e.nextMain = 0
	}
	return reload
}
