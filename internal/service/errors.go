package service

import (
	"errors"
	"fmt"
)

// Code 是对外暴露的结构化错误码
type Code string

const (
	CodeNotFound          Code = "NOT_FOUND"
	CodeForbidden         Code = "FORBIDDEN"
	CodeInvalidState      Code = "INVALID_STATE"
	CodeQuorumNotMet      Code = "QUORUM_NOT_MET"
	CodeResourceExhausted Code = "RESOURCE_EXHAUSTED"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeInvalidArgument   Code = "INVALID_ARGUMENT"
	CodeInternal          Code = "INTERNAL"
)

// Error 是业务错误。每个哨兵错误都是独立的指针，用 errors.Is 判断。
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return e.Message }

var (
	ErrRoomNotFound        = &Error{CodeNotFound, "room not found"}
	ErrParticipantNotFound = &Error{CodeNotFound, "participant not found in this room"}
	ErrForbidden           = &Error{CodeForbidden, "only the room owner can perform this action"}
	ErrNoActiveRound       = &Error{CodeInvalidState, "no active round"}
	ErrRoundNotVoting      = &Error{CodeInvalidState, "round is not in voting state"}
	ErrOwnerMustTransfer   = &Error{CodeInvalidState, "owner must transfer ownership before leaving"}
	ErrInvalidTarget       = &Error{CodeInvalidState, "target must be another live participant of this room"}
	ErrQuorumNotMet        = &Error{CodeQuorumNotMet, "at least 2 online participants are required to start voting"}
	ErrCodeSpaceExhausted  = &Error{CodeResourceExhausted, "could not allocate a unique room code"}
	ErrUnauthorized        = &Error{CodeUnauthorized, "missing or invalid identity"}
	ErrInvalidArgument     = &Error{CodeInvalidArgument, "invalid argument"}
	ErrInternalServer      = &Error{CodeInternal, "internal server error"}
)

// invalidArgument 返回带具体说明的参数错误，仍可用 errors.Is(err, ErrInvalidArgument) 判断
func invalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// CodeOf 提取错误码，非业务错误一律视为 INTERNAL
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Describe 返回可以安全发给调用方的错误码与消息；内部错误不暴露细节
func Describe(err error) (Code, string) {
	code := CodeOf(err)
	if code == CodeInternal {
		return code, ErrInternalServer.Message
	}
	return code, err.Error()
}
