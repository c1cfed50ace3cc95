package wsengine

import (
	"testing"

	"github.com/gbdevw/gowsrt/pkg/wsframe"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

/*************************************************************************************************/
/* TEST SUITES                                                                                   */
/*************************************************************************************************/

// Test suite used for Reassembler unit tests
type ReassemblerUnitTestSuite struct {
	suite.Suite
}

// Run ReassemblerUnitTestSuite test suite
func TestReassemblerUnitTestSuite(t *testing.T) {
	suite.Run(t, new(ReassemblerUnitTestSuite))
}

func dataFrame(opcode wsframe.Opcode, fin bool, payload string) *wsframe.Frame {
	return &wsframe.Frame{Fin: fin, Opcode: opcode, Masked: true, Payload: []byte(payload)}
}

/*************************************************************************************************/
/* UNIT TESTS                                                                                    */
/*************************************************************************************************/

// Test a single frame message is delivered immediately.
func (suite *ReassemblerUnitTestSuite) TestSingleFrame() {
	r := NewReassembler(1024)
	msg, err := r.Push(dataFrame(wsframe.OpBinary, true, "abc"))
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), &Message{Type: BinaryMessage, Data: []byte("abc")}, msg)
	require.False(suite.T(), r.Active())
}

// Test a text message split in 3 frames with a control frame in between is reassembled.
func (suite *ReassemblerUnitTestSuite) TestThreeFragmentsWithInterleavedPing() {
	r := NewReassembler(1024)
	msg, err := r.Push(dataFrame(wsframe.OpText, false, "Hel"))
	require.NoError(suite.T(), err)
	require.Nil(suite.T(), msg)
	require.True(suite.T(), r.Active())
	// Control frame does not touch the buffer
	msg, err = r.Push(dataFrame(wsframe.OpPing, true, "ping"))
	require.NoError(suite.T(), err)
	require.Nil(suite.T(), msg)
	require.Equal(suite.T(), 3, r.Buffered())
	msg, err = r.Push(dataFrame(wsframe.OpContinuation, false, "lo, "))
	require.NoError(suite.T(), err)
	require.Nil(suite.T(), msg)
	msg, err = r.Push(dataFrame(wsframe.OpContinuation, true, "world"))
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), &Message{Type: TextMessage, Data: []byte("Hello, world")}, msg)
	require.False(suite.T(), r.Active())
	require.Zero(suite.T(), r.Buffered())
}

// Test UTF-8 is checked on the complete message: a code point may straddle two fragments.
func (suite *ReassemblerUnitTestSuite) TestUTF8StraddlingFragments() {
	euro := "\xe2\x82\xac"
	r := NewReassembler(1024)
	_, err := r.Push(dataFrame(wsframe.OpText, false, euro[:1]))
	require.NoError(suite.T(), err)
	msg, err := r.Push(dataFrame(wsframe.OpContinuation, true, euro[1:]))
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), euro, string(msg.Data))
}

// Test invalid UTF-8 text fails with 1007.
func (suite *ReassemblerUnitTestSuite) TestInvalidUTF8() {
	r := NewReassembler(1024)
	_, err := r.Push(dataFrame(wsframe.OpText, true, "\x80"))
	code, ok := wsframe.CloseCodeOf(err)
	require.True(suite.T(), ok)
	require.Equal(suite.T(), wsframe.CloseInvalidPayload, code)
	// Binary messages are not checked
	msg, err := r.Push(dataFrame(wsframe.OpBinary, true, "\x80"))
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), msg)
}

// Test oversized messages fail with 1009 and reset the reassembler.
func (suite *ReassemblerUnitTestSuite) TestMessageTooBig() {
	r := NewReassembler(4)
	_, err := r.Push(dataFrame(wsframe.OpBinary, true, "12345"))
	code, _ := wsframe.CloseCodeOf(err)
	require.Equal(suite.T(), wsframe.CloseMessageTooBig, code)

	_, err = r.Push(dataFrame(wsframe.OpBinary, false, "123"))
	require.NoError(suite.T(), err)
	_, err = r.Push(dataFrame(wsframe.OpContinuation, true, "45"))
	code, _ = wsframe.CloseCodeOf(err)
	require.Equal(suite.T(), wsframe.CloseMessageTooBig, code)
	require.False(suite.T(), r.Active())
	require.Zero(suite.T(), r.Buffered())
}

// Test out of sequence frames fail with 1002.
func (suite *ReassemblerUnitTestSuite) TestSequenceViolations() {
	r := NewReassembler(1024)
	_, err := r.Push(dataFrame(wsframe.OpContinuation, true, "x"))
	code, _ := wsframe.CloseCodeOf(err)
	require.Equal(suite.T(), wsframe.CloseProtocolError, code)

	_, err = r.Push(dataFrame(wsframe.OpText, false, "a"))
	require.NoError(suite.T(), err)
	_, err = r.Push(dataFrame(wsframe.OpBinary, true, "b"))
	code, _ = wsframe.CloseCodeOf(err)
	require.Equal(suite.T(), wsframe.CloseProtocolError, code)
	require.False(suite.T(), r.Active())
}
