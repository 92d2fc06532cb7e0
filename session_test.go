package parlance

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSessionTable(t *testing.T) {
	t.Run("both directions stay consistent across binds and drops", func(t *testing.T) {
		st := newSessionTable()
		st.bind("c1", "tok-a")
		st.bind("c2", "tok-b")
		st.bind("c3", "tok-b")

		require.Equal(t, 3, st.size())
		require.True(t, st.isClientActive("c1"))
		require.True(t, st.isTokenActive("tok-b"))

		token, err := st.tokenFor("c2")
		require.NoError(t, err)
		require.Equal(t, "tok-b", token)

		// The most recently bound client wins the reverse lookup.
		clientID, err := st.clientIDFor("tok-b")
		require.NoError(t, err)
		require.Equal(t, "c3", clientID)

		st.drop("c3")
		require.Equal(t, 2, st.size())
		require.True(t, st.isTokenActive("tok-b"))
		clientID, err = st.clientIDFor("tok-b")
		require.NoError(t, err)
		require.Equal(t, "c2", clientID)

		st.drop("c2")
		require.False(t, st.isTokenActive("tok-b"))
		_, err = st.clientIDFor("tok-b")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("dropping an unknown client is a no-op", func(t *testing.T) {
		st := newSessionTable()
		st.bind("c1", "tok-a")
		st.drop("ghost")
		st.drop("c1")
		st.drop("c1")
		require.Equal(t, 0, st.size())
		require.False(t, st.isClientActive("c1"))
	})

	t.Run("concurrent connections may share one token", func(t *testing.T) {
		st := newSessionTable()
		st.bind("c1", "tok")
		st.bind("c2", "tok")

		st.drop("c1")
		require.True(t, st.isTokenActive("tok"))

		token, err := st.tokenFor("c2")
		require.NoError(t, err)
		require.Equal(t, "tok", token)
	})
}

func TestServerRegisterChannel(t *testing.T) {
	t.Run("only socket channels can be served", func(t *testing.T) {
		s, err := NewServer()
		require.NoError(t, err)

		err = s.RegisterChannel(ServerChannelSpec{Name: "rest", Kind: KindHTTP})
		require.ErrorIs(t, err, ErrServerChannelKind)
	})

	t.Run("authenticated channels need a validator", func(t *testing.T) {
		s, err := NewServer()
		require.NoError(t, err)

		err = s.RegisterChannel(ServerChannelSpec{Name: "main", Kind: KindSocket, Auth: true})
		require.ErrorIs(t, err, ErrValidatorRequired)
	})

	t.Run("handlers resolve only registered channels", func(t *testing.T) {
		s, err := NewServer()
		require.NoError(t, err)
		require.NoError(t, s.RegisterChannel(ServerChannelSpec{Name: "main", Kind: KindSocket}))

		_, err = s.Handler("main")
		require.NoError(t, err)
		_, err = s.Handler("ghost")
		require.ErrorIs(t, err, ErrChannelNotFound)

		_, err = s.ClientIDFor("ghost", "tok")
		require.ErrorIs(t, err, ErrChannelNotFound)
	})
}
