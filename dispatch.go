package parlance

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/hashicorp/go-metrics"
)

// dispatch serves one inbound frame of one connection. A frame without a
// `_dialect` field is not an rpc frame and is ignored, not an error.
func (s *Server) dispatch(ctx context.Context, chn *serverChannel, sc *serverConn, data []byte) {
	fr, err := parseFrame(data)
	if err != nil {
		s.msink.IncrCounterWithLabels(MetricFrameMalformedCount, 1.0, append(
			[]metrics.Label{LabelChannelName.M(chn.spec.Name)},
			s.config.metricLabels...,
		))
		s.logger.Error("dropping malformed frame",
			LabelChannelName.L(chn.spec.Name),
			LabelClientID.L(sc.clientID),
			LabelError.L(err),
		)
		return
	}
	if fr.Dialect == "" {
		return
	}

	if !chn.spec.allows(fr.Dialect) {
		s.writeError(chn, sc, fr.ID, fmt.Sprintf("the dialect %s is not supported on this channel", fr.Dialect), nil)
		return
	}

	dialect, err := s.dialects.resolve(fr.Dialect)
	if err != nil || dialect.OnRequest == nil {
		s.writeError(chn, sc, fr.ID, fmt.Sprintf("no handler registered for dialect %s", fr.Dialect), nil)
		return
	}

	var injected Fields
	if chn.spec.HeaderInjector != nil {
		injected, err = chn.spec.HeaderInjector(ctx, sc.token)
		if err != nil {
			s.writeError(chn, sc, fr.ID, err.Error(), nil)
			return
		}
	}

	req := &Request{
		ID:       fr.ID,
		Type:     fr.Type,
		Dialect:  fr.Dialect,
		Message:  fr.Raw,
		Token:    sc.token,
		ClientID: sc.clientID,
	}

	result, err := dialect.OnRequest(ctx, req)
	if err != nil {
		s.msink.IncrCounterWithLabels(MetricDispatchErrorCount, 1.0, append(
			[]metrics.Label{
				LabelChannelName.M(chn.spec.Name),
				LabelDialectName.M(fr.Dialect),
			},
			s.config.metricLabels...,
		))
		if fr.Type == TypeInform {
			// Informs never receive a frame, even on failure. The policy
			// here is log-and-continue: a handler error does not cost the
			// whole connection.
			s.logger.Error("inform handler failed",
				LabelChannelName.L(chn.spec.Name),
				LabelDialectName.L(fr.Dialect),
				LabelClientID.L(sc.clientID),
				LabelError.L(err),
			)
			return
		}
		s.writeError(chn, sc, fr.ID, err.Error(), injected)
		return
	}

	if fr.Type == TypeInform {
		return
	}
	s.writeResponse(chn, sc, fr.ID, result, injected)
}

// responseHeaders merges the injected bag with the server timestamp.
func responseHeaders(injected Fields) Fields {
	headers := Fields{fieldServerTime: time.Now().UTC().Format(time.RFC3339)}
	maps.Copy(headers, injected)
	return headers
}

func (s *Server) writeResponse(chn *serverChannel, sc *serverConn, id string, result any, injected Fields) {
	err := sc.write(Fields{
		fieldType:    string(TypeResponse),
		fieldID:      id,
		fieldResult:  result,
		fieldHeaders: responseHeaders(injected),
	})
	if err != nil {
		s.logger.Warn("response delivery failed",
			LabelChannelName.L(chn.spec.Name),
			LabelClientID.L(sc.clientID),
			LabelMessageID.L(id),
			LabelError.L(err),
		)
	}
}

func (s *Server) writeError(chn *serverChannel, sc *serverConn, id, message string, injected Fields) {
	err := sc.write(Fields{
		fieldType:    string(TypeError),
		fieldID:      id,
		fieldError:   message,
		fieldHeaders: responseHeaders(injected),
	})
	if err != nil {
		s.logger.Warn("error delivery failed",
			LabelChannelName.L(chn.spec.Name),
			LabelClientID.L(sc.clientID),
			LabelMessageID.L(id),
			LabelError.L(err),
		)
	}
}
