package conversation

// Observer 接收一轮生成过程中的事件，用于终端流式输出
type Observer interface {
	TurnStarted(speaker, handle string)
	TurnDelta(handle, delta string)
	TurnFinished(handle string, err error)
}

type observers []Observer

func (o observers) started(speaker, handle string) {
	for _, obs := range o {
		obs.TurnStarted(speaker, handle)
	}
}

func (o observers) delta(handle, delta string) {
	for _, obs := range o {
		obs.TurnDelta(handle, delta)
	}
}

func (o observers) finished(handle string, err error) {
	for _, obs := range o {
		obs.TurnFinished(handle, err)
	}
}
