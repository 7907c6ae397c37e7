package coordinator

import (
	"fmt"

	"voucherscan/internal/journal"
	"voucherscan/internal/logging"
	"voucherscan/internal/redemption"
	"voucherscan/internal/scanerr"
	"voucherscan/internal/voucher"
)

const genericNetworkMessage = "could not reach the redemption service; check the network and try again"

// dispatch applies the dedup and single-flight gates and starts a redemption.
// It returns nil without error when the attempt was dropped because another
// one is in flight.
func (c *Coordinator) dispatch(token voucher.Token) (*attempt, error) {
	c.mu.Lock()
	if c.state.Phase == PhaseClosed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.history.Contains(token.VoucherID) {
		err := scanerr.New(scanerr.KindDuplicate, "redeem voucher", "already processed recently")
		c.state.setError(err)
		c.markScanningLocked()
		c.mu.Unlock()

		c.logger.Info("duplicate voucher ignored",
			logging.String(logging.FieldEventType, "redeem_duplicate"),
			logging.String(logging.FieldVoucherID, token.VoucherID),
			logging.Int64(logging.FieldBuyerID, token.BuyerID),
		)
		c.record(journal.Entry{
			VoucherID: token.VoucherID,
			BuyerID:   token.BuyerID,
			Outcome:   journal.OutcomeDuplicate,
			ErrorKind: string(scanerr.KindDuplicate),
			Message:   err.UserMessage(),
		})
		c.emit(Event{Type: EventDuplicate, VoucherID: token.VoucherID, BuyerID: token.BuyerID, Message: err.UserMessage(), Err: err})
		return nil, err
	}
	if c.state.IsRedeeming {
		c.mu.Unlock()
		c.logger.Debug("redemption in flight; scan dropped", logging.String(logging.FieldVoucherID, token.VoucherID))
		return nil, nil
	}

	att := &attempt{token: token, done: make(chan struct{})}
	c.state.IsRedeeming = true
	c.state.Phase = PhaseRedeeming
	c.state.setError(nil)
	c.mu.Unlock()

	go c.run(att)
	return att, nil
}

func (c *Coordinator) run(att *attempt) {
	defer c.finish(att)

	token := att.token
	c.logger.Info("redeeming voucher",
		logging.String(logging.FieldEventType, "redeem_started"),
		logging.String(logging.FieldVoucherID, token.VoucherID),
		logging.Int64(logging.FieldBuyerID, token.BuyerID),
	)
	c.record(journal.Entry{VoucherID: token.VoucherID, BuyerID: token.BuyerID, Outcome: journal.OutcomeAttempted})

	resp, err := c.callRedeemer(token)
	att.err = err
	if err != nil {
		c.applyFailure(token, err)
		return
	}
	c.applySuccess(token, resp)
}

func (c *Coordinator) callRedeemer(token voucher.Token) (resp redemption.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = scanerr.Wrap(scanerr.KindNetwork, "redeem voucher", genericNetworkMessage, fmt.Errorf("redeemer panic: %v", r))
		}
	}()
	ctx := logging.WithVoucherID(c.baseCtx, token.VoucherID)
	resp, err = c.redeemer.Redeem(ctx, token.VoucherID)
	if err != nil && scanerr.KindOf(err) == scanerr.KindNone {
		err = scanerr.Wrap(scanerr.KindNetwork, "redeem voucher", genericNetworkMessage, err)
	}
	return resp, err
}

func (c *Coordinator) applySuccess(token voucher.Token, resp redemption.Response) {
	c.history.Add(token.VoucherID)

	c.mu.Lock()
	c.state.LastRedeemed = token.VoucherID
	// A timeout that fired mid-call already released the camera.
	timedOut := c.state.ErrorKind == scanerr.KindTimeout && !c.scanner.Running()
	switch {
	case c.state.Phase == PhaseClosed:
	case timedOut:
		c.state.Phase = PhaseReady
	default:
		c.state.Phase = PhaseRedeemedSuccess
		c.state.setError(nil)
	}
	c.mu.Unlock()

	c.logger.Info("voucher redeemed",
		logging.String(logging.FieldEventType, "redeem_succeeded"),
		logging.String(logging.FieldVoucherID, token.VoucherID),
		logging.Int64(logging.FieldBuyerID, token.BuyerID),
		logging.String("server_message", resp.Message),
	)
	c.record(journal.Entry{
		VoucherID: token.VoucherID,
		BuyerID:   token.BuyerID,
		Outcome:   journal.OutcomeRedeemed,
		Message:   resp.Message,
	})

	if c.mode == ModeAuto {
		c.opMu.Lock()
		c.scanner.Stop()
		c.opMu.Unlock()
	}
	c.emit(Event{Type: EventRedeemed, VoucherID: token.VoucherID, BuyerID: token.BuyerID, Message: resp.Message})
}

func (c *Coordinator) applyFailure(token voucher.Token, err error) {
	c.mu.Lock()
	if c.state.Phase != PhaseClosed {
		c.state.Phase = PhaseRedeemedError
	}
	c.state.setError(err)
	c.mu.Unlock()

	msg := scanerr.UserMessage(err)
	logging.WarnWithContext(c.logger, "voucher redemption failed", "redeem_failed",
		logging.String(logging.FieldVoucherID, token.VoucherID),
		logging.Int64(logging.FieldBuyerID, token.BuyerID),
		logging.Error(err),
		logging.String(logging.FieldErrorKind, string(scanerr.KindOf(err))),
		logging.String(logging.FieldErrorHint, "scan the code again or press r to retry"),
	)
	c.record(journal.Entry{
		VoucherID: token.VoucherID,
		BuyerID:   token.BuyerID,
		Outcome:   journal.OutcomeFailed,
		ErrorKind: string(scanerr.KindOf(err)),
		Message:   msg,
	})
	c.emit(Event{Type: EventRedeemFailed, VoucherID: token.VoucherID, BuyerID: token.BuyerID, Message: msg, Err: err})
}

// finish clears the single-flight flag on every exit path.
func (c *Coordinator) finish(att *attempt) {
	if r := recover(); r != nil {
		c.logger.Error("redemption handler panic", logging.Any("panic", r))
		if att.err == nil {
			att.err = scanerr.New(scanerr.KindNetwork, "redeem voucher", genericNetworkMessage)
		}
	}
	c.mu.Lock()
	c.state.IsRedeeming = false
	if c.state.Phase == PhaseRedeeming {
		c.state.Phase = PhaseRedeemedError
		c.state.setError(att.err)
	}
	c.idle.Broadcast()
	c.mu.Unlock()
	close(att.done)
}
