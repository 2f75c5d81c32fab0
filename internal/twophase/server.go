package twophase

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/anandp/concord/internal/config"
	"github.com/anandp/concord/internal/rpcnet"
)

// ParticipantServer wires a Participant to an RPC listener, the way
// Node does for a Paxos cluster member.
type ParticipantServer struct {
	cfg         *config.Participant
	participant *Participant
	server      *rpcnet.Server
	log         *logrus.Entry
}

// NewParticipantServer constructs a participant from configuration:
// opens its account/prepared storage and log file. The RPC server is
// created and started by Serve.
func NewParticipantServer(cfg *config.Participant) (*ParticipantServer, error) {
	log := logrus.WithFields(logrus.Fields{"component": "twophase", "account": cfg.AccountName})

	account := NewAccountStorage(cfg.AccountFile)
	preparedStore := NewPreparedStorage(cfg.PreparedFile)
	plog, err := OpenParticipantLog(cfg.LogFile, cfg.AccountName)
	if err != nil {
		return nil, errors.Wrap(err, "twophase: open participant log")
	}

	participant, err := NewParticipant(cfg.AccountName, cfg.AuthKey, account, preparedStore, plog, cfg.CrashBeforeVote, cfg.CrashAfterVote)
	if err != nil {
		return nil, errors.Wrap(err, "twophase: construct participant")
	}

	return &ParticipantServer{cfg: cfg, participant: participant, log: log}, nil
}

// Serve starts the RPC listener and blocks until Close is called.
func (s *ParticipantServer) Serve() error {
	server, err := rpcnet.NewServer(s.cfg.Listen, s.participant, s.log)
	if err != nil {
		return errors.Wrap(err, "twophase: start RPC server")
	}
	s.server = server
	s.log.WithField("addr", server.Addr()).Info("twophase: participant listening")
	server.Serve()
	return nil
}

// Addr returns the bound listen address.
func (s *ParticipantServer) Addr() string {
	return s.server.Addr()
}

// Close shuts down the RPC listener.
func (s *ParticipantServer) Close() error {
	if s.server == nil {
		return nil
	}
	return s.server.Close()
}

// Participant exposes the underlying Participant, mainly so tests can
// call ReleaseCrash on it.
func (s *ParticipantServer) Participant() *Participant {
	return s.participant
}
